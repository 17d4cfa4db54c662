package engine

import (
	"errors"
	"log"

	"courier/models"
	"courier/utils"

	"gorm.io/gorm"
)

// Config carries the tunables injected at construction time.
type Config struct {
	// SegmentTags overrides the built-in segment set. Empty means default.
	SegmentTags []string
	// DefaultListSlug is the list lead-capture targets.
	DefaultListSlug string
}

// Notifier delivers the new-lead notification to a list owner. Failures
// never affect the capture outcome.
type Notifier interface {
	NotifyNewLead(list *models.List, lead *models.Lead, sub *models.Subscription) error
}

// Engine is the identity-resolution and enrollment core. All enrollment
// status transitions in the system go through it; the delivery worker
// only consumes enrollment rows.
type Engine struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Tags     *TagRules
	Notifier Notifier

	defaultListSlug string
}

func New(db *gorm.DB, logger *log.Logger, cfg Config, notifier Notifier) *Engine {
	slug := cfg.DefaultListSlug
	if slug == "" {
		slug = "untitled-publishers"
	}
	return &Engine{
		DB:              db,
		Logger:          logger,
		Tags:            NewTagRules(cfg.SegmentTags),
		Notifier:        notifier,
		defaultListSlug: slug,
	}
}

// SubscribeInput is a list-targeted subscribe event.
type SubscribeInput struct {
	List     string
	Email    string
	Name     string
	Source   string
	Funnel   string
	Segment  string
	Tags     []string
	Metadata map[string]string
	Country  string
}

// CaptureInput is a lead-capture event against the default list.
type CaptureInput struct {
	Email      string
	Name       string
	Source     string
	Funnel     string
	Segment    string
	Tags       []string
	Metadata   map[string]string
	QuizResult string
	Country    string
}

// Result reports what a capture or subscribe did.
type Result struct {
	LeadID         uint   `json:"lead_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	New            bool   `json:"new"`
}

// sagaStep is one stage of the capture orchestration. Critical steps
// abort the whole operation on failure; the rest log and move on.
type sagaStep struct {
	name     string
	critical bool
	run      func() error
}

func (e *Engine) runSaga(op string, steps []sagaStep) error {
	for _, step := range steps {
		if err := step.run(); err != nil {
			if step.critical {
				return err
			}
			e.Logger.Printf("%s: step %s failed, continuing: %v", op, step.name, err)
			utils.LogError(op+"_"+step.name, err, nil)
		}
	}
	return nil
}

// Subscribe runs the full subscribe orchestration: validate, upsert lead
// and subscription, cancel superseded segment enrollments, enroll into
// the welcome sequence and tag-triggered sequences, then notify and
// audit. Identity steps are atomic per row; enrollment and notification
// are best effort.
func (e *Engine) Subscribe(in SubscribeInput) (*Result, error) {
	email := utils.NormalizeEmail(in.Email)
	tags := SanitizeTags(in.Tags)

	var (
		list    *models.List
		leadRes *leadResolution
		sub     *models.Subscription
		subNew  bool
	)

	steps := []sagaStep{
		{name: "validate", critical: true, run: func() error {
			if in.List == "" {
				return newValidationError("list slug is required")
			}
			if err := utils.ValidateEmailAddress(email); err != nil {
				return newValidationError(err.Error())
			}
			return nil
		}},
		{name: "resolve_list", critical: true, run: func() error {
			var err error
			list, err = e.resolveOrCreateList(in.List)
			return err
		}},
		{name: "resolve_lead", critical: true, run: func() error {
			var err error
			leadRes, err = e.resolveOrCreateLead(email, tags, leadProfile{
				Name:     in.Name,
				Source:   in.Source,
				Funnel:   in.Funnel,
				Segment:  in.Segment,
				Metadata: in.Metadata,
				Country:  in.Country,
			})
			return err
		}},
		{name: "resolve_subscription", critical: true, run: func() error {
			var err error
			sub, subNew, err = e.resolveOrCreateSubscription(leadRes.Lead.ID, list.ID, in.Source, in.Funnel)
			return err
		}},
		// Retire the old segment's sequences before any new enrollment.
		{name: "cancel_superseded", critical: false, run: func() error {
			_, err := e.CancelBySegment(sub.ID, list.ID, leadRes.ExistingSegment, leadRes.NewSegment)
			return err
		}},
		{name: "enroll_welcome", critical: false, run: func() error {
			if !subNew || list.WelcomeSequenceID == nil {
				return nil
			}
			_, err := e.Enroll(sub.ID, *list.WelcomeSequenceID)
			if errors.Is(err, ErrDuplicateEnrollment) {
				return nil
			}
			return err
		}},
		{name: "enroll_by_tags", critical: false, run: func() error {
			if len(leadRes.Delta) == 0 {
				return nil
			}
			return e.enrollByTags(sub.ID, list.ID, leadRes.Delta)
		}},
		{name: "notify", critical: false, run: func() error {
			if !subNew || e.Notifier == nil || list.NotifyEmail == nil {
				return nil
			}
			return e.Notifier.NotifyNewLead(list, leadRes.Lead, sub)
		}},
		{name: "touch", critical: false, run: func() error {
			e.logTouch(leadRes.Lead.ID, in.Source, in.Funnel)
			return nil
		}},
	}

	if err := e.runSaga("subscribe", steps); err != nil {
		return nil, err
	}
	return &Result{LeadID: leadRes.Lead.ID, SubscriptionID: sub.ID, New: subNew}, nil
}

// Capture runs the lead-capture orchestration against the default list.
// Unlike Subscribe, a missing default list is tolerated: the lead is
// still stored, only the membership and enrollments are skipped.
func (e *Engine) Capture(in CaptureInput) (*Result, error) {
	email := utils.NormalizeEmail(in.Email)
	tags := SanitizeTags(in.Tags)

	source := in.Source
	if source == "" {
		source = "direct"
	}

	var (
		list    *models.List
		leadRes *leadResolution
		sub     *models.Subscription
		subNew  bool
	)

	steps := []sagaStep{
		{name: "validate", critical: true, run: func() error {
			if err := utils.ValidateEmailAddress(email); err != nil {
				return newValidationError(err.Error())
			}
			return nil
		}},
		{name: "resolve_lead", critical: true, run: func() error {
			var err error
			leadRes, err = e.resolveOrCreateLead(email, tags, leadProfile{
				Name:       in.Name,
				Source:     source,
				Funnel:     in.Funnel,
				Segment:    in.Segment,
				Metadata:   in.Metadata,
				QuizResult: in.QuizResult,
				Country:    in.Country,
			})
			return err
		}},
		{name: "resolve_list", critical: false, run: func() error {
			var err error
			list, err = e.findDefaultList()
			return err
		}},
		{name: "resolve_subscription", critical: false, run: func() error {
			if list == nil {
				return nil
			}
			var err error
			sub, subNew, err = e.resolveOrCreateSubscription(leadRes.Lead.ID, list.ID, source, in.Funnel)
			return err
		}},
		{name: "cancel_superseded", critical: false, run: func() error {
			if sub == nil {
				return nil
			}
			_, err := e.CancelBySegment(sub.ID, list.ID, leadRes.ExistingSegment, leadRes.NewSegment)
			return err
		}},
		{name: "enroll_welcome", critical: false, run: func() error {
			if sub == nil || !subNew || list.WelcomeSequenceID == nil {
				return nil
			}
			_, err := e.Enroll(sub.ID, *list.WelcomeSequenceID)
			if errors.Is(err, ErrDuplicateEnrollment) {
				return nil
			}
			return err
		}},
		{name: "enroll_by_tags", critical: false, run: func() error {
			if sub == nil || len(leadRes.Delta) == 0 {
				return nil
			}
			return e.enrollByTags(sub.ID, list.ID, leadRes.Delta)
		}},
		{name: "notify", critical: false, run: func() error {
			if sub == nil || !subNew || e.Notifier == nil || list.NotifyEmail == nil {
				return nil
			}
			return e.Notifier.NotifyNewLead(list, leadRes.Lead, sub)
		}},
		{name: "touch", critical: false, run: func() error {
			e.logTouch(leadRes.Lead.ID, source, in.Funnel)
			return nil
		}},
	}

	if err := e.runSaga("capture", steps); err != nil {
		return nil, err
	}

	res := &Result{LeadID: leadRes.Lead.ID, New: leadRes.IsNew}
	if sub != nil {
		res.SubscriptionID = sub.ID
		res.New = subNew
	}
	return res, nil
}
