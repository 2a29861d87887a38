package image

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ImageToMat converts an image to a BGR gocv.Mat. Alpha is dropped.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	data := make([]byte, w*h*3)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < h; y++ {
			row := rgba.Pix[(y)*rgba.Stride:]
			for x := 0; x < w; x++ {
				i := (y*w + x) * 3
				data[i+0] = row[x*4+2]
				data[i+1] = row[x*4+1]
				data[i+2] = row[x*4+0]
			}
		}
	} else {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				i := (y*w + x) * 3
				data[i+0] = uint8(b >> 8)
				data[i+1] = uint8(g >> 8)
				data[i+2] = uint8(r >> 8)
			}
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create mat: %w", err)
	}
	return mat, nil
}

// Crop returns an owned copy of the region r of mat. r is clamped to the
// bounds of mat.
func Crop(mat gocv.Mat, r image.Rectangle) gocv.Mat {
	r = r.Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	if r.Empty() {
		return gocv.NewMat()
	}
	region := mat.Region(r)
	defer region.Close()
	return region.Clone()
}

// Rescale resizes mat by factor. Shrinking uses area interpolation and
// enlarging uses cubic interpolation. A factor of 1 returns a copy.
func Rescale(mat gocv.Mat, factor float64) gocv.Mat {
	if factor == 1 || mat.Empty() {
		return mat.Clone()
	}
	interp := gocv.InterpolationCubic
	if factor < 1 {
		interp = gocv.InterpolationArea
	}
	dst := gocv.NewMat()
	gocv.Resize(mat, &dst, image.Point{}, factor, factor, interp)
	return dst
}

// RotateCCW returns mat rotated 90 degrees counter-clockwise.
func RotateCCW(mat gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Rotate(mat, &dst, gocv.Rotate90CounterClockwise)
	return dst
}

// RotateCW returns mat rotated 90 degrees clockwise.
func RotateCW(mat gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Rotate(mat, &dst, gocv.Rotate90Clockwise)
	return dst
}
