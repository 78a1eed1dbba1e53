package pledges

type Status string

const (
	StatusPending    Status = "pending"
	StatusMonitoring Status = "monitoring"
	StatusFulfilled  Status = "fulfilled"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

type PaymentStatus string

const (
	PaymentNone       PaymentStatus = "none"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentReleased   PaymentStatus = "released"
	PaymentFailed     PaymentStatus = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusFulfilled: true, StatusCancelled: true, StatusExpired: true},
	StatusMonitoring: {StatusFulfilled: true, StatusCancelled: true, StatusExpired: true},
	StatusFulfilled:  {},
	StatusCancelled:  {},
	StatusExpired:    {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Active reports whether a pledge can still be fulfilled or cancelled.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusMonitoring
}
