package engine

import (
	"fmt"
	"math"
	"strings"
)

// Method selects how samples inside one downsampling window collapse to
// a single value.
type Method string

const (
	MethodAverage Method = "average"
	MethodMin     Method = "min"
	MethodMax     Method = "max"
	MethodFirst   Method = "first"
	MethodLast    Method = "last"
)

// ParseMethod maps a request string to a Method. Empty means average.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "", "average", "avg", "mean":
		return MethodAverage, nil
	case "min", "minimum":
		return MethodMin, nil
	case "max", "maximum":
		return MethodMax, nil
	case "first":
		return MethodFirst, nil
	case "last":
		return MethodLast, nil
	default:
		return "", fmt.Errorf("unknown downsampling method %q", s)
	}
}

// windowRatio is the fixed stride used when count samples must fit into
// at most target output points. Every window holds ratio consecutive
// samples except possibly the final one.
func windowRatio(count, target int) int {
	return (count + target - 1) / target
}

// downsampleTimestamps picks one timestamp per window: the middle sample
// of the window. Computed once per query and shared by every series so
// all output columns stay aligned.
func downsampleTimestamps(timestamps []int64, ratio int) []int64 {
	count := len(timestamps)
	out := make([]int64, 0, (count+ratio-1)/ratio)
	for start := 0; start < count; start += ratio {
		end := start + ratio
		if end > count {
			end = count
		}
		out = append(out, timestamps[start+(end-start)/2])
	}
	return out
}

// reduceValues collapses each window of ratio samples with the method.
// Average, min and max ignore missing samples and yield NaN when a
// window holds nothing else; first and last take the raw edge samples.
func reduceValues(values []float64, ratio int, method Method) []float64 {
	count := len(values)
	out := make([]float64, 0, (count+ratio-1)/ratio)
	for start := 0; start < count; start += ratio {
		end := start + ratio
		if end > count {
			end = count
		}
		out = append(out, reduceWindow(values[start:end], method))
	}
	return out
}

func reduceWindow(window []float64, method Method) float64 {
	switch method {
	case MethodFirst:
		return window[0]
	case MethodLast:
		return window[len(window)-1]
	}

	var sum, min, max float64
	n := 0
	for _, v := range window {
		if math.IsNaN(v) {
			continue
		}
		if n == 0 {
			min, max = v, v
		} else {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	switch method {
	case MethodMin:
		return min
	case MethodMax:
		return max
	default:
		return sum / float64(n)
	}
}
