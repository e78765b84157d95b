package domain

import "errors"

// FailureReason classifies why a delivery attempt did not succeed.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	// ReasonAppVersionRejected means the service refuses data from this build.
	ReasonAppVersionRejected
	// ReasonEmptyResponse means the service answered 2xx without an acknowledgement.
	ReasonEmptyResponse
	// ReasonStatusCode means the service answered with a non-2xx status.
	ReasonStatusCode
	// ReasonNetwork means the request never produced a response.
	ReasonNetwork
	// ReasonRejected means the service refused individual records.
	ReasonRejected
)

// String returns a short name for the reason.
func (r FailureReason) String() string {
	switch r {
	case ReasonAppVersionRejected:
		return "app_version_rejected"
	case ReasonEmptyResponse:
		return "empty_response"
	case ReasonStatusCode:
		return "status_code"
	case ReasonNetwork:
		return "network"
	case ReasonRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Rejection is the service's refusal of a single record.
type Rejection struct {
	ID        RecordID
	Reason    string
	Permanent bool
}

// DeliveryResult is the per-record outcome of one delivery attempt.
// Records of the batch that appear in neither Accepted nor Rejected are
// treated as retryable failures.
type DeliveryResult struct {
	Accepted []RecordID
	Rejected []Rejection
}

// Outcome splits a batch by result: ids to mark delivered and ids to mark
// failed. Accepted ids that were not part of the batch are ignored.
// Permanent rejections are returned as failed; they count toward the retry
// ceiling like any other failure.
func (res DeliveryResult) Outcome(b *Batch) (delivered, failed []RecordID) {
	accepted := make(map[RecordID]struct{}, len(res.Accepted))
	for _, id := range res.Accepted {
		accepted[id] = struct{}{}
	}
	for _, r := range b.Records {
		if _, ok := accepted[r.ID]; ok {
			delivered = append(delivered, r.ID)
		} else {
			failed = append(failed, r.ID)
		}
	}
	return delivered, failed
}

// PermanentCount returns how many rejections are permanent.
func (res DeliveryResult) PermanentCount() int {
	n := 0
	for _, r := range res.Rejected {
		if r.Permanent {
			n++
		}
	}
	return n
}

// IsPermanent reports whether err is a delivery failure that retrying the
// same payload cannot fix. Errors that do not say otherwise are retryable.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// IsBatchRefused reports whether err says the batch was refused as a whole
// for its size or contents, so a smaller batch may be accepted.
func IsBatchRefused(err error) bool {
	var p interface{ BatchRefused() bool }
	return errors.As(err, &p) && p.BatchRefused()
}
