package analyzer

import "image"

// luminance converts an RGBA pixel to a 0-255 luma value using the
// standard Rec. 601 weights. The weighted sum is taken in integer
// thousandths so a gray pixel of value v yields exactly v.
func luminance(c [3]uint32) float64 {
	return float64(299*c[0]+587*c[1]+114*c[2]) / 1000
}

func pixelAt(img image.Image, x, y int) [3]uint32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return [3]uint32{r >> 8, g >> 8, b >> 8}
}

// DetectBlackscreen measures mean luminance over the top 2/3 of the frame
// (the default rectangle per §4.10) and reports blackscreen if the mean is
// below threshold AND the fraction of near-black pixels meets cutoff.
func DetectBlackscreen(img image.Image, meanThreshold, pixelCutoff float64) (isBlack bool, pct float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	regionHeight := h * 2 / 3
	if regionHeight <= 0 {
		regionHeight = h
	}

	var sum float64
	var darkCount, total int
	const nearBlackLuma = 10.0
	for y := bounds.Min.Y; y < bounds.Min.Y+regionHeight; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+w; x++ {
			lum := luminance(pixelAt(img, x, y))
			sum += lum
			total++
			if lum <= nearBlackLuma {
				darkCount++
			}
		}
	}
	if total == 0 {
		return false, 0
	}
	mean := sum / float64(total)
	pct = float64(darkCount) / float64(total)
	isBlack = mean < meanThreshold && pct >= pixelCutoff
	return isBlack, pct
}

// DetectFreeze compares prev and cur on a decimated grid (every 10th pixel
// per §4.10) and reports the mean absolute difference. A pair is frozen
// iff meanDiff < freezeThreshold (strict, per §8's boundary behavior).
func DetectFreeze(prev, cur image.Image, freezeThreshold float64) (frozen bool, meanDiff float64) {
	bounds := cur.Bounds()
	pb := prev.Bounds()
	w := bounds.Dx()
	if pb.Dx() < w {
		w = pb.Dx()
	}
	h := bounds.Dy()
	if pb.Dy() < h {
		h = pb.Dy()
	}

	var sum float64
	var count int
	const stride = 10
	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			cl := luminance(pixelAt(cur, bounds.Min.X+x, bounds.Min.Y+y))
			pl := luminance(pixelAt(prev, pb.Min.X+x, pb.Min.Y+y))
			diff := cl - pl
			if diff < 0 {
				diff = -diff
			}
			sum += diff
			count++
		}
	}
	if count == 0 {
		return false, 0
	}
	meanDiff = sum / float64(count)
	frozen = meanDiff < freezeThreshold
	return frozen, meanDiff
}

// DetectAudio reports audio=false when mean dBFS falls below silenceFloor
// (§4.10).
func DetectAudio(meanVolumeDB, silenceFloor float64) bool {
	return meanVolumeDB >= silenceFloor
}

// DetectMacroblocks computes an edge-density metric over the decoded
// frame and reports a quality_score in [0,100] plus whether it crosses
// threshold (§4.10; the exact threshold is empirical per §9, not
// invariant-critical).
func DetectMacroblocks(img image.Image, threshold float64) (hasArtifacts bool, qualityScore float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < 2 || h < 2 {
		return false, 100
	}

	var edgeSum float64
	var count int
	for y := bounds.Min.Y; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X; x < bounds.Max.X-1; x++ {
			l := luminance(pixelAt(img, x, y))
			rightL := luminance(pixelAt(img, x+1, y))
			downL := luminance(pixelAt(img, x, y+1))
			gx := l - rightL
			gy := l - downL
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			edgeSum += gx + gy
			count++
		}
	}
	if count == 0 {
		return false, 100
	}
	density := edgeSum / float64(count)
	// Blocky compression artifacts show up as a high-density but
	// low-variance edge field; the score is an inverse proxy, clamped to
	// [0,100] so callers can treat it uniformly across resolutions.
	qualityScore = 100 - density
	if qualityScore < 0 {
		qualityScore = 0
	}
	if qualityScore > 100 {
		qualityScore = 100
	}
	hasArtifacts = density > threshold
	return hasArtifacts, qualityScore
}
