package autoflow

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	ErrMissingTenant       = errors.New("tenant id must be present and non-zero", j.C("ERR_8f3a1c2b9d4e5f60"))
	ErrInvalidRule         = errors.New("rule definition is invalid", j.C("ERR_2c9e4b7a1f8d3e50"))
	ErrInvalidJourney      = errors.New("journey definition is invalid", j.C("ERR_6b1d9f3c8a2e4750"))
	ErrRuleNotFound        = errors.New("rule not found", j.C("ERR_4e8a2c6f1b9d3710"))
	ErrJourneyNotFound     = errors.New("journey not found", j.C("ERR_9d3b7e1a5c8f2640"))
	ErrEnrollmentNotFound  = errors.New("enrollment not found", j.C("ERR_1a5c9e3b7d2f8460"))
	ErrAlreadyEnrolled     = errors.New("target already has an active enrollment for this journey", j.C("ERR_7f2b8d4a6e1c9350"))
	ErrTaskAlreadyPending  = errors.New("a scheduled task is already pending for this enrollment step", j.C("ERR_3e7a1c5f9b4d2860"))
	ErrTaskNotFound        = errors.New("scheduled task not found", j.C("ERR_5c1f7b3e9a6d4820"))
	ErrStaleEnrollment     = errors.New("enrollment was modified concurrently - update lost", j.C("ERR_8b4e2a6c1d9f3570"))
	ErrUnableToPause       = errors.New("enrollment is unable to be paused", j.C("ERR_2d8f4b6a3c1e7950"))
	ErrUnableToResume      = errors.New("enrollment is unable to be resumed", j.C("ERR_6a3e9c1b5f8d2470"))
	ErrUnableToCancel      = errors.New("enrollment is unable to be cancelled", j.C("ERR_4b8d2f6e1a9c3750"))
	ErrEngineNotRunning    = errors.New("engine is not running - ensure Run() is called first", j.C("ERR_9e5a1d3c7b2f8640"))
	ErrOutboxEventNotFound = errors.New("outbox event not found", j.C("ERR_1c7e3a9b5d4f2860"))
)
