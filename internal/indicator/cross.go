package indicator

// lastTwo returns the previous and current values of s.
func lastTwo(s []float64) (prev, cur float64, ok bool) {
	if len(s) < 2 {
		return 0, 0, false
	}
	return s[len(s)-2], s[len(s)-1], true
}

// CrossedAbove reports whether a moved from at-or-below b to above b on the
// last step. Both series need at least two points.
func CrossedAbove(a, b []float64) bool {
	ap, ac, ok1 := lastTwo(a)
	bp, bc, ok2 := lastTwo(b)
	return ok1 && ok2 && ap <= bp && ac > bc
}

// CrossedBelow reports whether a moved from at-or-above b to below b on the
// last step.
func CrossedBelow(a, b []float64) bool {
	ap, ac, ok1 := lastTwo(a)
	bp, bc, ok2 := lastTwo(b)
	return ok1 && ok2 && ap >= bp && ac < bc
}

// CrossedAboveLevel reports whether s crossed above a constant level.
func CrossedAboveLevel(s []float64, level float64) bool {
	prev, cur, ok := lastTwo(s)
	return ok && prev <= level && cur > level
}

// CrossedBelowLevel reports whether s crossed below a constant level.
func CrossedBelowLevel(s []float64, level float64) bool {
	prev, cur, ok := lastTwo(s)
	return ok && prev >= level && cur < level
}

// Last returns the final value of s.
func Last(s []float64) (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}
