package errors

// Policy says what an operation does with a failure at its swallow point.
//
// Every place that converts an error into "no data" declares its policy in a
// [Policies] table so the swallow points stay enumerable and testable instead
// of being scattered catch-alls.
type Policy int

const (
	// Propagate returns the error to the caller unchanged.
	Propagate Policy = iota
	// ConvertToEmpty drops the error and lets the caller continue with an
	// empty result. The error is logged at debug level.
	ConvertToEmpty
	// LogAndSkip drops the error after logging it at warn level, skipping
	// the current item.
	LogAndSkip
)

func (p Policy) String() string {
	switch p {
	case Propagate:
		return "propagate"
	case ConvertToEmpty:
		return "convert-to-empty"
	case LogAndSkip:
		return "log-and-skip"
	default:
		return "unknown"
	}
}

// Logger is the subset of *log.Logger that policies write to.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
}

// Apply handles err for operation op according to p. It returns err for
// Propagate and nil otherwise. A nil err is always returned as nil.
func (p Policy) Apply(l Logger, op string, err error, keyvals ...interface{}) error {
	if err == nil {
		return nil
	}
	kv := append([]interface{}{"op", op, "err", err}, keyvals...)
	switch p {
	case ConvertToEmpty:
		if l != nil {
			l.Debug("treating failure as empty", kv...)
		}
		return nil
	case LogAndSkip:
		if l != nil {
			l.Warn("skipping after failure", kv...)
		}
		return nil
	default:
		return err
	}
}

// Policies maps operation names to their declared policy.
type Policies map[string]Policy

// For returns the policy declared for op, or Propagate when op is unknown.
func (ps Policies) For(op string) Policy {
	if p, ok := ps[op]; ok {
		return p
	}
	return Propagate
}

// Apply looks up op and applies its policy to err.
func (ps Policies) Apply(l Logger, op string, err error, keyvals ...interface{}) error {
	return ps.For(op).Apply(l, op, err, keyvals...)
}
