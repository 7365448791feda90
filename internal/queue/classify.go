package queue

// classifyOutcome maps an upload attempt's HTTP status (or transport error)
// to an Outcome. A network error (status == 0) and 408/429/5xx are
// transient; any other 4xx is permanent; 2xx is success. This narrows the
// routing table to the line the original classifyHTTPError already drew:
// only request-timeout and rate-limit responses among the 4xx family are
// worth retrying, everything else is a poison response.
func classifyOutcome(status int, err error) Outcome {
	if err != nil || status == 0 {
		return Transient
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == 408 || status == 429:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Permanent
	}
}
