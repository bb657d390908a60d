package settlement

// Admit checks a decoded trade request against the current contract state.
// The guard enforces strict gapless sequencing: a request is admitted only
// when its sequence number extends the last accepted value by exactly one, so
// a replayed, stale or skipped-ahead request is rejected. The guard never
// mutates state; LastSeqNo advances only once the settlement commits.
func Admit(req *TradeRequest, state *ContractState, now int64) error {
	if req == nil {
		return reject(CodeInvalidAmount, "nil trade request")
	}
	if req.Amount == 0 {
		return reject(CodeInvalidAmount, "trade amount must be positive")
	}
	if uint64(req.SeqNo) != state.LastSeqNo+1 {
		return reject(CodeBadSequence, "seqNo %d does not extend lastSeqNo %d", req.SeqNo, state.LastSeqNo)
	}
	if now > int64(req.ExpireAt) {
		return reject(CodeExpired, "request expired at %d, now %d", req.ExpireAt, now)
	}
	return nil
}
