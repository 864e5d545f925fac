package ledger

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyFlagged = errors.New("post already flagged")
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")
	ErrPostNotFound   = errors.New("post not found")
)

// Reports whether the error means the ledger already holds a flag for the post.
//
// Ledger client libraries usually surface contract reverts as plain error
// strings, so in addition to the sentinel this matches on the revert message.
func IsAlreadyFlagged(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAlreadyFlagged) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already flagged")
}

// Reports whether a submission error means the node already has this exact
// transaction in its pool.
func IsKnownTransaction(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// Errors which will not go away by retrying the same call: contract reverts,
// bad arguments, and missing posts.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPostNotFound) || IsAlreadyFlagged(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"execution reverted", "invalid argument", "insufficient funds", "nonce too low", "intrinsic gas too low"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
