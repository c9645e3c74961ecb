package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// reportHeader is the fixed column layout of the loss report.
var reportHeader = []string{
	"epoch",
	"learning_rate",
	"training_loss",
	"training_regression_loss",
	"training_classification_loss",
	"validation_loss",
	"validation_regression_loss",
	"validation_classification_loss",
}

// ReportRow is the metrics record of one validated epoch.
type ReportRow struct {
	Epoch        int
	LearningRate float64
	Training     LossSummary
	Validation   LossSummary
}

// LossReport appends one CSV row per validated epoch. The file is opened
// per append so a crash between epochs never loses earlier rows.
type LossReport struct {
	path string
}

// NewLossReport creates the report file at path and writes the header.
func NewLossReport(path string) (*LossReport, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create loss report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(reportHeader); err != nil {
		return nil, fmt.Errorf("failed to write report header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write report header: %w", err)
	}
	return &LossReport{path: path}, nil
}

// Path returns the report file's location.
func (r *LossReport) Path() string {
	return r.path
}

// Append writes one epoch's row.
func (r *LossReport) Append(row ReportRow) error {
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open loss report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := []string{
		strconv.Itoa(row.Epoch),
		formatFloat(row.LearningRate),
		formatFloat(row.Training.Loss),
		formatFloat(row.Training.RegressionLoss),
		formatFloat(row.Training.ClassificationLoss),
		formatFloat(row.Validation.Loss),
		formatFloat(row.Validation.RegressionLoss),
		formatFloat(row.Validation.ClassificationLoss),
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("failed to append report row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to append report row: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
