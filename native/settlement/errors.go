package settlement

import "fmt"

// Code is a stable numeric rejection code surfaced to off-chain callers so
// tooling can branch on cause. The 10x trade-validation codes match the exit
// codes the deployed contract reported.
type Code uint16

const (
	CodeInvalidAmount           Code = 101
	CodeBadSequence             Code = 102
	CodeExpired                 Code = 103
	CodeCommissionExceedsAmount Code = 104

	CodeTruncated       Code = 201
	CodeUnknownOpcode   Code = 202
	CodeFieldOutOfRange Code = 203

	CodeNotAuthorized     Code = 401
	CodeInsufficientFunds Code = 402
	CodeInvalidRate       Code = 403
	CodeInvalidAddress    Code = 404
)

// RejectError reports a per-message rejection. Rejections never mutate the
// contract state and never affect subsequent messages' eligibility.
type RejectError struct {
	Code   Code
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("settlement: rejected (%d): %s", e.Code, e.Reason)
}

func reject(code Code, format string, args ...interface{}) *RejectError {
	return &RejectError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// DecodeError reports a structural failure while decoding a wire message. It
// carries one of the 20x codes.
type DecodeError struct {
	Code   Code
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("settlement: decode failed (%d): %s", e.Code, e.Reason)
}

func decodeErr(code Code, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Code: code, Reason: fmt.Sprintf(format, args...)}
}
