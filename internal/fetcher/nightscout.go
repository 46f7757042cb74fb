package fetcher

import (
	"context"
	"crypto/sha1" //nolint:gosec // Nightscout hashes API secrets with SHA-1
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bg-algo-checker/internal/models"
)

const (
	treatmentsPath = "/api/v1/treatments.json"
	sgvPath        = "/api/v1/entries/sgv.json"
	mbgPath        = "/api/v1/entries/mbg.json"
	calPath        = "/api/v1/entries/cal.json"

	sensorStartEvent = "Sensor Start"
	// unfiltered counts are scaled down to the raw units used by the calibration algorithms
	unfilteredScale = 1000.0
)

// NightscoutOptions parameterise the Nightscout source.
type NightscoutOptions struct {
	BaseURL    string
	APISecret  string
	Token      string
	Timeout    time.Duration
	UserAgent  string
	MaxEntries int
	// From bounds every query; zero fetches everything the server returns.
	From time.Time
}

// Nightscout reads sensor sessions, raw readings and calibrations from a Nightscout site.
// Responses are fetched once and cached for the lifetime of the value.
type Nightscout struct {
	opts    NightscoutOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	sessions []models.Session
	sgv      []entry
}

// NewNightscout constructs a Nightscout source.
func NewNightscout(opts NightscoutOptions, logger zerolog.Logger) *Nightscout {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 100000
	}

	return &Nightscout{
		opts:    opts,
		logger:  logger.With().Str("component", "nightscout").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// ListSessions derives sessions from "Sensor Start" treatments. Each session runs until
// the next sensor start; the newest one ends at its start and is extended by its data.
func (n *Nightscout) ListSessions(ctx context.Context) ([]models.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loadSessions(ctx)
}

// ListRawSamples lists readings that carry an unfiltered value, ascending by time.
func (n *Nightscout) ListRawSamples(ctx context.Context) ([]models.RawSample, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sessions, err := n.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := n.loadSGV(ctx)
	if err != nil {
		return nil, err
	}

	samples := make([]models.RawSample, 0, len(entries))
	for _, e := range entries {
		if e.Unfiltered <= 0 {
			continue
		}
		id, ok := sessionAt(sessions, e.Date)
		if !ok {
			continue
		}
		samples = append(samples, models.RawSample{
			Value:      e.Unfiltered / unfilteredScale,
			Timestamp:  e.Date,
			SessionID:  id,
			NoiseLevel: models.NoiseUnknown,
		})
	}
	return samples, nil
}

// ListCalibrations lists fingerstick entries. The uploader's own calibration at that time
// becomes the reference fit, scored by its distance to the nearest sensor glucose value.
func (n *Nightscout) ListCalibrations(ctx context.Context) ([]models.CalibrationEvent, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	sessions, err := n.loadSessions(ctx)
	if err != nil {
		return nil, err
	}
	sgv, err := n.loadSGV(ctx)
	if err != nil {
		return nil, err
	}
	mbg, err := n.fetchEntries(ctx, mbgPath)
	if err != nil {
		return nil, err
	}
	cal, err := n.fetchEntries(ctx, calPath)
	if err != nil {
		return nil, err
	}

	events := make([]models.CalibrationEvent, 0, len(mbg))
	for _, e := range mbg {
		if e.MBG <= 0 {
			continue
		}
		id, ok := sessionAt(sessions, e.Date)
		if !ok {
			continue
		}
		event := models.CalibrationEvent{MeasuredBG: e.MBG, Timestamp: e.Date, SessionID: id}
		if c, ok := latestBefore(cal, e.Date); ok && c.Slope != 0 {
			scale := c.Scale
			if scale == 0 {
				scale = 1
			}
			event.Reference = &models.ReferenceFit{
				Slope:     unfilteredScale * scale / c.Slope,
				Intercept: -scale * c.Intercept / c.Slope,
			}
			if s, ok := nearestSGV(sgv, e.Date); ok {
				event.Reference.Distance = math.Abs(e.MBG - s.SGV)
			}
		}
		events = append(events, event)
	}
	return events, nil
}

func (n *Nightscout) loadSessions(ctx context.Context) ([]models.Session, error) {
	if n.sessions != nil {
		return n.sessions, nil
	}

	params := url.Values{}
	params.Set("count", strconv.Itoa(n.opts.MaxEntries))
	params.Set("find[eventType]", sensorStartEvent)
	if !n.opts.From.IsZero() {
		params.Set("find[created_at][$gte]", n.opts.From.UTC().Format(time.RFC3339))
	}

	var treatments []treatment
	if err := n.get(ctx, treatmentsPath, params, &treatments); err != nil {
		return nil, fmt.Errorf("fetch sensor starts: %w", err)
	}

	starts := make([]int64, 0, len(treatments))
	uuids := make(map[int64]string, len(treatments))
	for _, t := range treatments {
		if t.EventType != "" && t.EventType != sensorStartEvent {
			continue
		}
		ts, ok := t.millis()
		if !ok {
			n.logger.Warn().Str("id", t.ID).Msg("sensor start without usable time")
			continue
		}
		if _, dup := uuids[ts]; dup {
			continue
		}
		starts = append(starts, ts)
		uuids[ts] = t.ID
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	sessions := make([]models.Session, len(starts))
	for i, start := range starts {
		end := start
		if i+1 < len(starts) {
			end = starts[i+1] - 1
		}
		sessions[i] = models.Session{ID: int64(i + 1), UUID: uuids[start], Start: start, End: end}
	}
	n.logger.Debug().Int("sessions", len(sessions)).Msg("sensor sessions loaded")
	n.sessions = sessions
	return sessions, nil
}

func (n *Nightscout) loadSGV(ctx context.Context) ([]entry, error) {
	if n.sgv != nil {
		return n.sgv, nil
	}
	entries, err := n.fetchEntries(ctx, sgvPath)
	if err != nil {
		return nil, err
	}
	n.sgv = entries
	return entries, nil
}

// fetchEntries returns entries ascending by date; the API serves newest first.
func (n *Nightscout) fetchEntries(ctx context.Context, path string) ([]entry, error) {
	params := url.Values{}
	params.Set("count", strconv.Itoa(n.opts.MaxEntries))
	if !n.opts.From.IsZero() {
		params.Set("find[date][$gte]", strconv.FormatInt(n.opts.From.UnixMilli(), 10))
	}

	var entries []entry
	if err := n.get(ctx, path, params, &entries); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	if len(entries) >= n.opts.MaxEntries {
		n.logger.Warn().Str("path", path).Int("count", len(entries)).Msg("entry limit reached, older data may be missing")
	}
	return entries, nil
}

func (n *Nightscout) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := n.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(n.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "bgcheck/1.0")
	}
	if n.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.opts.Token)
	} else if n.opts.APISecret != "" {
		req.Header.Set("API-SECRET", hashSecret(n.opts.APISecret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func hashSecret(secret string) string {
	sum := sha1.Sum([]byte(secret)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

type entry struct {
	ID         string  `json:"_id"`
	Type       string  `json:"type"`
	Date       int64   `json:"date"`
	SGV        float64 `json:"sgv"`
	MBG        float64 `json:"mbg"`
	Unfiltered float64 `json:"unfiltered"`
	Filtered   float64 `json:"filtered"`
	Slope      float64 `json:"slope"`
	Intercept  float64 `json:"intercept"`
	Scale      float64 `json:"scale"`
}

type treatment struct {
	ID        string `json:"_id"`
	EventType string `json:"eventType"`
	CreatedAt string `json:"created_at"`
	Date      int64  `json:"date"`
	Mills     int64  `json:"mills"`
}

func (t treatment) millis() (int64, bool) {
	switch {
	case t.Date > 0:
		return t.Date, true
	case t.Mills > 0:
		return t.Mills, true
	}
	parsed, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return 0, false
	}
	return parsed.UnixMilli(), true
}

// sessionAt returns the session whose span covers ts.
func sessionAt(sessions []models.Session, ts int64) (int64, bool) {
	idx := sort.Search(len(sessions), func(i int) bool { return sessions[i].Start > ts }) - 1
	if idx < 0 {
		return 0, false
	}
	// the newest session is open ended
	if idx < len(sessions)-1 && ts > sessions[idx].End {
		return 0, false
	}
	return sessions[idx].ID, true
}

func latestBefore(entries []entry, ts int64) (entry, bool) {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Date > ts }) - 1
	if idx < 0 {
		return entry{}, false
	}
	return entries[idx], true
}

func nearestSGV(entries []entry, ts int64) (entry, bool) {
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Date >= ts })
	best, found := entry{}, false
	var bestDist int64
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(entries) || entries[i].SGV <= 0 {
			continue
		}
		dist := entries[i].Date - ts
		if dist < 0 {
			dist = -dist
		}
		if !found || dist < bestDist {
			best, bestDist, found = entries[i], dist, true
		}
	}
	return best, found
}
