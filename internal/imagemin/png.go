package imagemin

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/soniakeys/quant/median"
)

// paletteSizes are tried in order; the first one meeting the target wins.
var paletteSizes = []int{8, 16, 32, 64, 128, 256}

// png quantizes src. It returns nil bytes when no palette reaches PNGMin.
func (o *Optimizer) png(src []byte) ([]byte, error) {
	img, err := decode(src)
	if err != nil {
		return nil, err
	}

	// Already paletted images gain nothing from requantizing.
	if _, ok := img.(*image.Paletted); ok {
		return src, nil
	}

	maxMSE := qualityToMSE(o.opts.PNGMax)
	minMSE := qualityToMSE(o.opts.PNGMin)

	var (
		best    *image.Paletted
		bestMSE = math.Inf(1)
	)
	for _, n := range paletteSizes {
		p := quantize(img, n)
		mse := meanSquaredError(img, p)
		if mse < bestMSE {
			best, bestMSE = p, mse
		}
		if mse <= maxMSE {
			break
		}
	}

	if best == nil || bestMSE > minMSE {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, best); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// quantize builds an n-color median cut palette and dithers img onto it.
func quantize(img image.Image, n int) *image.Paletted {
	b := img.Bounds()
	pal := median.Quantizer(n).Quantize(make(color.Palette, 0, n), img)
	dst := image.NewPaletted(b, pal)
	draw.FloydSteinberg.Draw(dst, b, img, b.Min)
	return dst
}

// meanSquaredError is computed over premultiplied RGBA channels scaled to
// 0-255, matching the scale of qualityToMSE.
func meanSquaredError(a, b image.Image) float64 {
	bounds := a.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}

	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			sum += sq(r1, r2) + sq(g1, g2) + sq(b1, b2) + sq(a1, a2)
		}
	}
	return sum / float64(n*4)
}

func sq(x, y uint32) float64 {
	d := (float64(x) - float64(y)) / 257
	return d * d
}

// qualityToMSE is pngquant's mapping from a 0-100 quality to the maximum
// mean squared error, expressed here on a 0-255 channel scale. q is 0-1.
func qualityToMSE(q float64) float64 {
	iq := q * 100
	if iq <= 0 {
		return 1e20
	}
	extra := 0.016/(0.001+iq) - 0.001
	if extra < 0 {
		extra = 0
	}
	mse := extra + 2.5/math.Pow(210.0+iq, 1.2)*(100.1-iq)/100.0
	// Same conversion as libimagequant's mse_to_standard_mse.
	return mse * 65536 / 6
}
