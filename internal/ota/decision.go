package ota

import "net/http"

// Outcome — исход авторизации check-in / download.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomePending
	OutcomeDenied
	OutcomeUnauthorized
	OutcomeNotFound
	OutcomeBadRequest
)

// Причины отказа — устройство должно различать временный и постоянный отказ.
const (
	ReasonPending     = "pending approval"
	ReasonBlacklisted = "blacklisted"
	ReasonInvalidKey  = "invalid key"
	ReasonBadGroup    = "group mismatch"
	ReasonNoDevice    = "device"
	ReasonNoGroup     = "group"
	ReasonNoFirmware  = "firmware"
	ReasonNoDeviceID  = "device_id required"
)

// Decision — результат CheckIn/AuthorizeDownload.
// Метаданные прошивки заполнены только при OutcomeAllowed.
type Decision struct {
	Outcome Outcome
	Reason  string

	GroupID string
	Version string
	Digest  string
	Size    int64
	URL     string
}

func allowed(groupID, version, digest string, size int64, url string) *Decision {
	return &Decision{Outcome: OutcomeAllowed, GroupID: groupID, Version: version, Digest: digest, Size: size, URL: url}
}

func pending() *Decision { return &Decision{Outcome: OutcomePending, Reason: ReasonPending} }

func denied(reason string) *Decision { return &Decision{Outcome: OutcomeDenied, Reason: reason} }

func unauthorized() *Decision {
	return &Decision{Outcome: OutcomeUnauthorized, Reason: ReasonInvalidKey}
}

func notFound(what string) *Decision { return &Decision{Outcome: OutcomeNotFound, Reason: what} }

func badRequest(detail string) *Decision {
	return &Decision{Outcome: OutcomeBadRequest, Reason: detail}
}

// HTTPStatus — маппинг исхода на HTTP-код.
func (d *Decision) HTTPStatus() int {
	switch d.Outcome {
	case OutcomeAllowed:
		return http.StatusOK
	case OutcomePending, OutcomeDenied:
		return http.StatusForbidden
	case OutcomeUnauthorized:
		return http.StatusUnauthorized
	case OutcomeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
