package engine

import "github.com/abdoElHodaky/tradSys/internal/orderbook"

// request is the unit of work sent down a pair loop's command channel.
// Exactly one of submit/cancel/snapshot is set; reply always receives
// exactly one response before the loop moves to the next request,
// preserving the single-threaded-per-pair processing order spec §5
// requires.
type request struct {
	submit   *SubmitOrder
	cancel   *CancelOrder
	snapshot *SnapshotBook
	reply    chan response
}

type response struct {
	accepted Accepted
	snapshot orderbook.Snapshot
	err      error
}
