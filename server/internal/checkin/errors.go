package checkin

import (
	"errors"
	"fmt"

	"grape-notebook/server/internal/model"
)

func validation(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, msg)
}

// 校验类错误，均可用 errors.Is(err, model.ErrValidation) 判断。
var (
	ErrEmptyMessage       = validation("message is empty")
	ErrSummaryRequired    = validation("summary sentence is required")
	ErrMarkerRequired     = validation("emotion marker is required")
	ErrInvalidMarker      = validation("emotion marker is not valid")
	ErrAlreadySubmitted   = validation("check-in already submitted")
	ErrWrongPhase         = validation("command not allowed in current phase")
	ErrRestartNotAllowed  = validation("restart is only available for the morning check-in")
	ErrBusy               = validation("another action is still in progress")
	ErrUnknownCommand     = validation("unknown command")
	ErrConversationClosed = errors.New("conversation closed")
)
