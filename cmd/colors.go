package cmd

import (
	"github.com/fatih/color"

	"github.com/khanhnv2901/lineaudit/internal/application/progress"
	"github.com/khanhnv2901/lineaudit/internal/domain/audit"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
)

func formatStatusWithColor(status progress.DeviceStatus) string {
	switch status.Category() {
	case progress.CategorySuccess:
		return colorSuccess(string(status))
	case progress.CategoryWarning:
		return colorWarn(string(status))
	case progress.CategoryFailure:
		return colorError(string(status))
	default:
		return string(status)
	}
}

func formatOutcomeWithColor(outcome audit.RunOutcome) string {
	switch outcome {
	case audit.OutcomeCompleted:
		return colorSuccess(string(outcome))
	case audit.OutcomeStopped:
		return colorWarn(string(outcome))
	default:
		return colorError(string(outcome))
	}
}
