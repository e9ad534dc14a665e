package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "cfcache/1.0"
)

// Codeforces implements Fetcher against the Codeforces REST API.
type Codeforces struct {
	base    string
	hc      *http.Client
	timeout time.Duration
	logger  logger.Logger
}

// CodeforcesOption applies a configuration option to the client.
type CodeforcesOption func(*Codeforces)

// WithTimeout bounds every single API call.
func WithTimeout(d time.Duration) CodeforcesOption {
	return func(c *Codeforces) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) CodeforcesOption {
	return func(c *Codeforces) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithClientLogger sets a custom logger.
func WithClientLogger(l logger.Logger) CodeforcesOption {
	return func(c *Codeforces) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCodeforces creates a client for the API at base, e.g.
// "https://codeforces.com/api".
func NewCodeforces(base string, opts ...CodeforcesOption) *Codeforces {
	c := &Codeforces{
		base:    strings.TrimRight(base, "/"),
		hc:      &http.Client{},
		timeout: defaultTimeout,
		logger:  logger.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the Codeforces API response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

// The upstream comment marking unpublished rating changes.
const ratingUnavailableMark = "Rating changes are unavailable"

// call issues one API request and decodes the result payload into out.
func (c *Codeforces) call(ctx context.Context, resource, method string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	metrics.IncFetchesInFlight()
	defer func() {
		metrics.DecFetchesInFlight()
		metrics.RecordFetchDuration(resource, float64(time.Since(start).Milliseconds()))
	}()

	u := c.base + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fetchErr(resource, "", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.RecordFetchError(resource)
		return fetchErr(resource, "", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metrics.RecordFetchError(resource)
		return fetchErr(resource, "", err)
	}
	if env.Status != "OK" {
		if strings.Contains(env.Comment, ratingUnavailableMark) {
			return &Error{Resource: resource, Comment: env.Comment, Err: ErrNotPublished}
		}
		metrics.RecordFetchError(resource)
		return fetchErr(resource, env.Comment, nil)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordFetchError(resource)
		return fetchErr(resource, fmt.Sprintf("http status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		metrics.RecordFetchError(resource)
		return fetchErr(resource, "", err)
	}
	return nil
}

// Wire shapes of the Codeforces API.

type apiContest struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Phase            string `json:"phase"`
	DurationSeconds  int64  `json:"durationSeconds"`
	StartTimeSeconds int64  `json:"startTimeSeconds"`
}

func (a apiContest) toModel() model.Contest {
	var start time.Time
	if a.StartTimeSeconds > 0 {
		start = time.Unix(a.StartTimeSeconds, 0).UTC()
	}
	return model.Contest{
		ID:        a.ID,
		Name:      a.Name,
		Type:      a.Type,
		StartTime: start,
		Duration:  time.Duration(a.DurationSeconds) * time.Second,
		// The API carries no rated flag; unrated rounds announce it in
		// the contest name.
		Rated: !strings.Contains(strings.ToLower(a.Name), "unrated"),
	}
}

type apiProblem struct {
	ContestID int64    `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    int      `json:"rating"`
	Tags      []string `json:"tags"`
}

func (a apiProblem) toModel() model.Problem {
	return model.Problem{
		ContestID: a.ContestID,
		Index:     a.Index,
		Name:      a.Name,
		Rating:    a.Rating,
		Tags:      a.Tags,
	}
}

type apiRatingChange struct {
	ContestID               int64  `json:"contestId"`
	Handle                  string `json:"handle"`
	Rank                    int    `json:"rank"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
}

func (a apiRatingChange) toModel() model.RatingChange {
	return model.RatingChange{
		ContestID: a.ContestID,
		Handle:    a.Handle,
		Rank:      a.Rank,
		OldRating: a.OldRating,
		NewRating: a.NewRating,
		UpdatedAt: time.Unix(a.RatingUpdateTimeSeconds, 0).UTC(),
	}
}

type apiMember struct {
	Handle string `json:"handle"`
}

type apiParty struct {
	Members []apiMember `json:"members"`
}

type apiProblemResult struct {
	Points               float64 `json:"points"`
	RejectedAttemptCount int     `json:"rejectedAttemptCount"`
}

type apiStandingRow struct {
	Rank           int                `json:"rank"`
	Party          apiParty           `json:"party"`
	Points         float64            `json:"points"`
	Penalty        int                `json:"penalty"`
	ProblemResults []apiProblemResult `json:"problemResults"`
}

type apiStandings struct {
	Contest  apiContest       `json:"contest"`
	Problems []apiProblem     `json:"problems"`
	Rows     []apiStandingRow `json:"rows"`
}

// Contests fetches the full contest catalog.
func (c *Codeforces) Contests(ctx context.Context) ([]model.Contest, error) {
	var raw []apiContest
	if err := c.call(ctx, "contests", "contest.list", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]model.Contest, 0, len(raw))
	for _, a := range raw {
		m := a.toModel()
		if err := m.Validate(); err != nil {
			// Quarantine malformed rows instead of propagating them.
			c.logger.Warn(ctx, "dropping malformed contest row",
				logger.Int64("contestID", a.ID), logger.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Problems fetches the problem catalog, or one contest's problemset when
// contestID is nonzero.
func (c *Codeforces) Problems(ctx context.Context, contestID int64) ([]model.Problem, error) {
	if contestID != 0 {
		params := url.Values{"contestId": {strconv.FormatInt(contestID, 10)}, "from": {"1"}, "count": {"1"}}
		var raw apiStandings
		if err := c.call(ctx, "problems", "contest.standings", params, &raw); err != nil {
			return nil, err
		}
		return c.validProblems(ctx, raw.Problems), nil
	}

	var raw struct {
		Problems []apiProblem `json:"problems"`
	}
	if err := c.call(ctx, "problems", "problemset.problems", nil, &raw); err != nil {
		return nil, err
	}
	return c.validProblems(ctx, raw.Problems), nil
}

func (c *Codeforces) validProblems(ctx context.Context, raw []apiProblem) []model.Problem {
	out := make([]model.Problem, 0, len(raw))
	for _, a := range raw {
		m := a.toModel()
		if err := m.Validate(); err != nil {
			c.logger.Warn(ctx, "dropping malformed problem row",
				logger.Int64("contestID", a.ContestID), logger.String("index", a.Index), logger.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out
}

// Standings fetches the current standings of a contest.
func (c *Codeforces) Standings(ctx context.Context, contestID int64) (model.RawStandings, error) {
	params := url.Values{"contestId": {strconv.FormatInt(contestID, 10)}, "showUnofficial": {"false"}}
	var raw apiStandings
	if err := c.call(ctx, "standings", "contest.standings", params, &raw); err != nil {
		return model.RawStandings{}, err
	}

	s := model.RawStandings{
		Contest:  raw.Contest.toModel(),
		Problems: c.validProblems(ctx, raw.Problems),
		Rows:     make([]model.StandingRow, 0, len(raw.Rows)),
	}
	for _, r := range raw.Rows {
		members := make([]string, 0, len(r.Party.Members))
		for _, m := range r.Party.Members {
			if m.Handle != "" {
				members = append(members, m.Handle)
			}
		}
		if r.Rank <= 0 || len(members) == 0 {
			// Unranked or anonymous rows are of no use to consumers.
			continue
		}
		results := make([]model.ProblemResult, len(r.ProblemResults))
		for i, pr := range r.ProblemResults {
			results[i] = model.ProblemResult{Points: pr.Points, RejectedAttempts: pr.RejectedAttemptCount}
		}
		s.Rows = append(s.Rows, model.StandingRow{
			Rank:           r.Rank,
			Members:        members,
			Points:         r.Points,
			Penalty:        r.Penalty,
			ProblemResults: results,
		})
	}
	s.SortRows()
	return s, nil
}

// RatingChanges fetches rating changes for a contest. When the remote has not
// published any yet, the returned error matches ErrNotPublished.
func (c *Codeforces) RatingChanges(ctx context.Context, contestID int64) ([]model.RatingChange, error) {
	params := url.Values{"contestId": {strconv.FormatInt(contestID, 10)}}
	var raw []apiRatingChange
	if err := c.call(ctx, "ratingchanges", "contest.ratingChanges", params, &raw); err != nil {
		return nil, err
	}

	out := make([]model.RatingChange, 0, len(raw))
	for _, a := range raw {
		m := a.toModel()
		if err := m.Validate(); err != nil {
			c.logger.Warn(ctx, "dropping malformed rating change row",
				logger.Int64("contestID", a.ContestID), logger.String("handle", a.Handle), logger.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
