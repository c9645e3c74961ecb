package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAnnotationCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCSV = `ImageID,Source,LabelName,Confidence,XMin,YMin,XMax,YMax,ClassName
img1,xclick,/m/01,1,0.1,0.2,0.3,0.4,Apple
img1,xclick,/m/02,1,0.5,0.5,0.9,0.9,Orange
img2,xclick,/m/01,1,0.0,0.0,1.0,1.0,Apple
`

func TestReadAnnotations(t *testing.T) {
	t.Run("groups rows by image in encounter order", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv", sampleCSV)

		records, classNames, classDict, err := ReadAnnotations(path)
		require.NoError(t, err)

		require.Len(t, records, 2)
		assert.Equal(t, "img1", records[0].ImageID)
		assert.Equal(t, "img2", records[1].ImageID)
		assert.Len(t, records[0].Boxes, 2)
		assert.Equal(t, []int32{1, 2}, records[0].Labels)
		assert.Equal(t, Box{0.1, 0.2, 0.3, 0.4}, records[0].Boxes[0])

		assert.Equal(t, []string{"Apple", "Orange"}, classNames)
		assert.Equal(t, map[string]int{"Apple": 1, "Orange": 2}, classDict)
	})

	t.Run("vocabulary is first-seen order with 1-based labels", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv",
			"ImageID,ClassName,XMin,YMin,XMax,YMax\n"+
				"a,Zebra,0,0,1,1\n"+
				"a,Apple,0,0,1,1\n"+
				"b,Zebra,0,0,1,1\n")

		_, classNames, classDict, err := ReadAnnotations(path)
		require.NoError(t, err)

		assert.Len(t, classDict, len(classNames))
		for i, name := range classNames {
			assert.Equal(t, i+1, classDict[name])
		}
		assert.Equal(t, []string{"Zebra", "Apple"}, classNames)
	})

	t.Run("boxes and labels stay aligned", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv", sampleCSV)
		records, _, _, err := ReadAnnotations(path)
		require.NoError(t, err)
		for _, rec := range records {
			assert.Len(t, rec.Labels, len(rec.Boxes))
		}
	})

	t.Run("missing file is a DataLoadError", func(t *testing.T) {
		_, _, _, err := ReadAnnotations(filepath.Join(t.TempDir(), "nope.csv"))
		var dle *DataLoadError
		assert.ErrorAs(t, err, &dle)
	})

	t.Run("missing required column is a DataLoadError", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv",
			"ImageID,XMin,YMin,XMax,YMax\nimg1,0,0,1,1\n")
		_, _, _, err := ReadAnnotations(path)
		var dle *DataLoadError
		require.ErrorAs(t, err, &dle)
		assert.Contains(t, err.Error(), "ClassName")
	})

	t.Run("empty annotation source is a DataLoadError", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv",
			"ImageID,ClassName,XMin,YMin,XMax,YMax\n")
		_, _, _, err := ReadAnnotations(path)
		var dle *DataLoadError
		assert.ErrorAs(t, err, &dle)
	})

	t.Run("non-numeric coordinate is a DataLoadError", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv",
			"ImageID,ClassName,XMin,YMin,XMax,YMax\nimg1,Apple,zero,0,1,1\n")
		_, _, _, err := ReadAnnotations(path)
		var dle *DataLoadError
		assert.ErrorAs(t, err, &dle)
	})

	t.Run("degenerate box is a DataLoadError", func(t *testing.T) {
		path := writeAnnotationCSV(t, t.TempDir(), "ann.csv",
			"ImageID,ClassName,XMin,YMin,XMax,YMax\nimg1,Apple,0.9,0.1,0.2,0.5\n")
		_, _, _, err := ReadAnnotations(path)
		var dle *DataLoadError
		require.ErrorAs(t, err, &dle)
		assert.Contains(t, err.Error(), "degenerate")
	})
}
