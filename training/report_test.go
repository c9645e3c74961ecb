package training

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestLossReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.report.csv")

	report, err := NewLossReport(path)
	require.NoError(t, err)

	t.Run("writes the fixed header on creation", func(t *testing.T) {
		rows := readReport(t, path)
		require.Len(t, rows, 1)
		assert.Equal(t, []string{
			"epoch",
			"learning_rate",
			"training_loss",
			"training_regression_loss",
			"training_classification_loss",
			"validation_loss",
			"validation_regression_loss",
			"validation_classification_loss",
		}, rows[0])
	})

	t.Run("appends one row per validated epoch", func(t *testing.T) {
		require.NoError(t, report.Append(ReportRow{
			Epoch:        0,
			LearningRate: 0.01,
			Training:     LossSummary{Loss: 5.5, RegressionLoss: 2.5, ClassificationLoss: 3},
			Validation:   LossSummary{Loss: 6, RegressionLoss: 2, ClassificationLoss: 4},
		}))
		require.NoError(t, report.Append(ReportRow{
			Epoch:        1,
			LearningRate: 0.005,
			Training:     LossSummary{Loss: 4, RegressionLoss: 1, ClassificationLoss: 3},
			Validation:   LossSummary{Loss: 5, RegressionLoss: 1.5, ClassificationLoss: 3.5},
		}))

		rows := readReport(t, path)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{"0", "0.01", "5.5", "2.5", "3", "6", "2", "4"}, rows[1])
		assert.Equal(t, "1", rows[2][0])
		assert.Equal(t, "0.005", rows[2][1])
	})

	t.Run("creation fails for an unwritable path", func(t *testing.T) {
		_, err := NewLossReport(filepath.Join(t.TempDir(), "missing", "loss.csv"))
		assert.Error(t, err)
	})
}
