package syncer

// disposition buckets an HTTP status code per the remote delivery contract:
// 2xx is success, 4xx is permanent failure, everything else (5xx, odd 1xx/3xx)
// is treated as transient.
type disposition int

const (
	dispositionSuccess disposition = iota
	dispositionPermanent
	dispositionTransient
)

func classifyStatus(status int) disposition {
	switch {
	case status >= 200 && status <= 299:
		return dispositionSuccess
	case status >= 400 && status <= 499:
		return dispositionPermanent
	default:
		return dispositionTransient
	}
}
