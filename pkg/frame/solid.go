package frame

import (
	"image"
	"image/color"
	"time"
)

// Solid builds a frame filled with one color. Used by tests and the demo
// source when no camera is attached.
func Solid(source string, width, height int, c color.Color) (Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return FromImage(source, img, DefaultQuality, time.Now())
}
