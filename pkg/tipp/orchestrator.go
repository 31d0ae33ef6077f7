package tipp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richard-senior/kicktipp/internal/logger"
)

// Status is the final state of one matchday
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusDryRun    Status = "dry_run"
	StatusClosed    Status = "closed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// MatchdayOutcome summarises what happened to one matchday
type MatchdayOutcome struct {
	Season      string            `json:"season"`
	Matchday    int               `json:"matchday"`
	Status      Status            `json:"status"`
	Rows        int               `json:"rows"`
	Open        int               `json:"open"`
	Fallback    bool              `json:"fallback"`
	Predictions []Prediction      `json:"predictions,omitempty"`
	Backfilled  []int             `json:"backfilled,omitempty"`
	Nudged      []int             `json:"nudged,omitempty"`
	Report      *SubmissionReport `json:"report,omitempty"`
	Err         string            `json:"error,omitempty"`
	Started     time.Time         `json:"started"`
	Finished    time.Time         `json:"finished"`
}

func (o MatchdayOutcome) String() string {
	s := fmt.Sprintf("matchday %d: %s", o.Matchday, o.Status)
	if o.Report != nil && o.Report.Total > 0 {
		s += fmt.Sprintf(" (%d/%d confirmed)", o.Report.Confirmed, o.Report.Total)
	}
	if o.Err != "" {
		s += ": " + o.Err
	}
	return s
}

// Settings bundles the configuration of every pipeline stage
type Settings struct {
	Run       RunConfig
	Matcher   MatcherConfig
	Validator ValidatorConfig
	Backfill  BackfillConfig
	Submit    SubmitConfig
}

// DefaultSettings returns the defaults of every stage
func DefaultSettings() Settings {
	return Settings{
		Run:       DefaultRunConfig(),
		Matcher:   DefaultMatcherConfig(),
		Validator: DefaultValidatorConfig(),
		Backfill:  DefaultBackfillConfig(),
		Submit:    DefaultSubmitConfig(),
	}
}

// Orchestrator runs load, predict, validate and submit for each matchday.
// Matchdays are processed strictly one after the other.
type Orchestrator struct {
	cfg       RunConfig
	remote    Remote
	predictor Predictor
	fallback  *OddsPredictor
	extractor *FormExtractor
	validator *PredictionValidator
	engine    *SubmissionEngine
	recorders []Recorder
	notifier  Notifier
	digest    func(matchday int, doc *Document) string
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the pipeline. A nil predictor means odds only.
func NewOrchestrator(s Settings, remote Remote, predictor Predictor) *Orchestrator {
	backfill := NewOddsBackfill(s.Backfill)
	extractor := NewFormExtractor(s.Run.ExpectedRows)
	return &Orchestrator{
		cfg:       s.Run,
		remote:    remote,
		predictor: predictor,
		fallback:  NewOddsPredictor(backfill),
		extractor: extractor,
		validator: NewPredictionValidator(s.Validator, NewTeamMatcher(s.Matcher), backfill),
		engine:    NewSubmissionEngine(remote, extractor, s.Submit),
		sleep:     sleepCtx,
	}
}

// AddRecorder registers a sink for rows, final predictions and outcomes
func (o *Orchestrator) AddRecorder(r Recorder) {
	o.recorders = append(o.recorders, r)
}

func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// SetDigest installs a renderer whose output is handed to the predictor
func (o *Orchestrator) SetDigest(fn func(matchday int, doc *Document) string) {
	o.digest = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run processes matchdays first..last inclusive. Cancellation is checked
// between matchdays, a matchday in progress always runs to completion.
func (o *Orchestrator) Run(ctx context.Context, first, last int) ([]MatchdayOutcome, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid matchday range %d..%d", first, last)
	}
	var outcomes []MatchdayOutcome
	for md := first; md <= last; md++ {
		if err := ctx.Err(); err != nil {
			logger.Warn(fmt.Sprintf("Run cancelled before matchday %d", md))
			return outcomes, err
		}
		out := o.processMatchday(context.WithoutCancel(ctx), md)
		logger.Highlight(out.String())
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (o *Orchestrator) processMatchday(ctx context.Context, md int) MatchdayOutcome {
	var out MatchdayOutcome
	var err error
	for attempt := 0; ; attempt++ {
		out, err = o.matchday(ctx, md)
		var ne *NetworkError
		if err == nil || !errors.As(err, &ne) || attempt >= o.cfg.MatchdayRetries {
			break
		}
		logger.Warn(fmt.Sprintf("Matchday %d: network failure, retrying (%d/%d): %v", md, attempt+1, o.cfg.MatchdayRetries, err))
		_ = o.sleep(ctx, o.cfg.RetryBackoff*time.Duration(attempt+1))
	}
	if err != nil {
		out.Err = err.Error()
		logger.Error(fmt.Sprintf("Matchday %d: %v", md, err))
	}
	out.Finished = time.Now()

	for _, r := range o.recorders {
		if rerr := r.SaveOutcome(o.cfg.Season, out); rerr != nil {
			logger.Warn(fmt.Sprintf("Failed to record outcome of matchday %d: %v", md, rerr))
		}
	}
	if o.notifier != nil {
		if nerr := o.notifier.Notify(ctx, out); nerr != nil {
			logger.Warn(fmt.Sprintf("Failed to send notification for matchday %d: %v", md, nerr))
		}
	}
	return out
}

func (o *Orchestrator) matchday(ctx context.Context, md int) (MatchdayOutcome, error) {
	out := MatchdayOutcome{Season: o.cfg.Season, Matchday: md, Status: StatusFailed, Started: time.Now()}

	doc, err := o.remote.Load(ctx, md)
	if err != nil {
		return out, err
	}
	page, err := o.extractor.ParsePage(doc.HTML, doc.URL, md)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			out.Status = StatusSkipped
		}
		return out, err
	}
	open := page.OpenRows()
	out.Rows, out.Open = len(page.Rows), len(open)
	for _, r := range o.recorders {
		if rerr := r.SaveRows(o.cfg.Season, page); rerr != nil {
			logger.Warn(fmt.Sprintf("Failed to record rows of matchday %d: %v", md, rerr))
		}
	}
	if len(open) == 0 {
		logger.Info(fmt.Sprintf("Matchday %d: all %d rows closed", md, len(page.Rows)))
		out.Status = StatusClosed
		return out, nil
	}

	digest := ""
	if o.digest != nil {
		digest = o.digest(md, doc)
	}
	val, fallback, err := o.predict(ctx, page, digest)
	if err != nil {
		return out, err
	}
	out.Fallback = fallback
	out.Predictions = val.Predictions
	out.Backfilled = val.Backfilled
	out.Nudged = val.Nudged
	for _, r := range o.recorders {
		if rerr := r.SavePredictions(o.cfg.Season, md, val.Predictions); rerr != nil {
			logger.Warn(fmt.Sprintf("Failed to record predictions of matchday %d: %v", md, rerr))
		}
	}

	if o.cfg.DryRun {
		logger.Info(fmt.Sprintf("Matchday %d: dry run, %d tipps not submitted", md, len(val.Predictions)))
		out.Status = StatusDryRun
		return out, nil
	}
	report, err := o.engine.Submit(ctx, page, val.Predictions)
	out.Report = report
	if err != nil {
		return out, err
	}
	out.Status = StatusSubmitted
	return out, nil
}

// placeholderRows is true when no row carries a real team name
func placeholderRows(rows []Row) bool {
	for _, r := range rows {
		if r.HomeTeam != "Heim" || r.AwayTeam != "Gast" {
			return false
		}
	}
	return len(rows) > 0
}

// predict asks the predictor for a valid set, retrying with a linear backoff
// and a hint about the rejection. The odds predictor is the last resort.
func (o *Orchestrator) predict(ctx context.Context, page *Page, digest string) (*Validation, bool, error) {
	req := PredictRequest{Season: o.cfg.Season, Matchday: page.Matchday, Rows: page.Rows, Digest: digest}

	if o.predictor == nil || placeholderRows(page.Rows) {
		logger.Warn(fmt.Sprintf("Matchday %d: no usable team names or predictor, using odds only", page.Matchday))
		return o.predictWith(ctx, o.fallback, req)
	}

	attempts := 1 + o.cfg.PredictorRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, o.cfg.RetryBackoff*time.Duration(attempt-1)); err != nil {
				return nil, false, err
			}
		}
		req.Attempt = attempt
		cands, err := o.predictor.Predict(ctx, req)
		if err == nil {
			var val *Validation
			val, err = o.validator.Validate(cands, page.Rows)
			if err == nil {
				return val, false, nil
			}
		}
		lastErr = err
		req.Hint = retryHint(err, len(page.OpenRows()))
		logger.Warn(fmt.Sprintf("Matchday %d: prediction attempt %d/%d rejected: %v", page.Matchday, attempt, attempts, err))
	}

	if !o.cfg.AllowOddsFallback {
		return nil, false, fmt.Errorf("no valid prediction after %d attempts: %w", attempts, lastErr)
	}
	logger.Warn(fmt.Sprintf("Matchday %d: falling back to odds predictor", page.Matchday))
	return o.predictWith(ctx, o.fallback, req)
}

func (o *Orchestrator) predictWith(ctx context.Context, p Predictor, req PredictRequest) (*Validation, bool, error) {
	req.Attempt = 1
	cands, err := p.Predict(ctx, req)
	if err != nil {
		return nil, true, err
	}
	val, err := o.validator.Validate(cands, req.Rows)
	return val, true, err
}

func retryHint(err error, open int) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("Die letzte Antwort wurde verworfen (%s). Gib genau %d Tipps zurück, jeden row_index genau einmal.", ve.Detail, open)
	}
	return fmt.Sprintf("Die letzte Antwort konnte nicht verarbeitet werden (%v). Antworte ausschließlich mit dem JSON-Array.", err)
}
