package ocr

import (
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("M4A1", "m4a1"))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("", "abc"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 0.75, Similarity("M4A1", "M4A"), 1e-9)
	assert.InDelta(t, 0.5, Similarity("GPU", "GP"), 0.2)
	assert.Equal(t, Similarity("kitten", "sitting"), Similarity("sitting", "kitten"))
	assert.InDelta(t, 4.0/7.0, Similarity("kitten", "sitting"), 1e-9)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 3, levenshtein([]rune("kitten"), []rune("sitting")))
	assert.Equal(t, 0, levenshtein([]rune("abc"), []rune("abc")))
	assert.Equal(t, 3, levenshtein([]rune(""), []rune("abc")))
}

func TestClosest(t *testing.T) {
	i, score := Closest("Sal3wa", []string{"M4A1", "Salewa", "Grizzly"})
	assert.Equal(t, 1, i)
	assert.InDelta(t, 5.0/6.0, score, 1e-9)

	i, score = Closest("x", nil)
	assert.Equal(t, -1, i)
	assert.Zero(t, score)
}

func TestNameBand(t *testing.T) {
	assert.Equal(t, image.Rect(1, 1, 63, 17), NameBand(image.Pt(64, 64)))
	assert.Equal(t, image.Rect(1, 1, 9, 9), NameBand(image.Pt(10, 10)))
}

func TestPreprocessShortName(t *testing.T) {
	icon := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), 64, 127, gocv.MatTypeCV8UC3)
	defer icon.Close()
	for y := 4; y < 12; y++ {
		for x := 90; x < 120; x++ {
			for c := 0; c < 3; c++ {
				icon.SetUCharAt(y, x*3+c, 230)
			}
		}
	}

	out, err := preprocessShortName(icon)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 125*4, out.Cols())
	assert.Equal(t, 16*4, out.Rows())
	assert.Equal(t, uint8(0), out.GetUCharAt(8*4-4, 100*4-4), "text becomes dark")
	assert.Equal(t, uint8(255), out.GetUCharAt(2, 2), "background becomes light")
}

func TestTesseractReadsText(t *testing.T) {
	if os.Getenv("STASHEYE_TEST_TESSERACT") == "" {
		t.Skip("STASHEYE_TEST_TESSERACT not set")
	}
	r, err := NewTesseract(os.Getenv("TESSDATA_PREFIX"))
	require.NoError(t, err)
	defer r.Close()

	blank := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), 64, 64, gocv.MatTypeCV8UC3)
	defer blank.Close()
	_, err = r.ReadShortName(blank)
	assert.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = r.ReadShortName(blank)
	assert.Error(t, err)
}
