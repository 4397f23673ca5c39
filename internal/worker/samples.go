package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Method names of the sample workers.
const (
	SumMethod  = "Sum"
	EchoMethod = "Echo"
)

// Sum adds its numeric arguments. The result is an int64 when every
// argument is integral, a float64 otherwise.
type Sum struct{}

func (Sum) Method() string { return SumMethod }

func (Sum) Compute(_ context.Context, args ...any) (any, error) {
	var (
		ints    int64
		floats  float64
		isFloat bool
	)
	for i, arg := range args {
		switch v := arg.(type) {
		case int:
			ints += int64(v)
		case int64:
			ints += v
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				ints += int64(v)
			} else {
				floats += v
				isFloat = true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				ints += n
				continue
			}
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			floats += f
			isFloat = true
		default:
			return nil, fmt.Errorf("argument %d: not a number: %T", i, arg)
		}
	}
	if isFloat {
		return floats + float64(ints), nil
	}
	return ints, nil
}

// Echo returns its single argument unchanged, or the argument list when
// called with several.
type Echo struct{}

func (Echo) Method() string { return EchoMethod }

func (Echo) Compute(_ context.Context, args ...any) (any, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return args, nil
}
