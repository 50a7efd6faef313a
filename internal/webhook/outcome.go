package webhook

// OutcomeKind tells the dispatcher what to do with the webhook after a
// handler ran. Retryability is an explicit return value, never inferred
// from error types.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	default:
		return "fail"
	}
}

type Outcome struct {
	Kind   OutcomeKind
	Detail string
	Err    error
}

func Success(detail string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Detail: detail}
}

// Retry marks a transient failure: the attempt may succeed later
// (DB contention, out-of-order delivery, trigger emission failure).
func Retry(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

// Fail marks a terminal failure: retrying cannot change the result.
func Fail(err error) Outcome {
	return Outcome{Kind: OutcomeFail, Err: err}
}

func (o Outcome) ErrorDetail() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Detail
}
