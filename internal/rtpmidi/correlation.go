package rtpmidi

import "github.com/rs/xid"

// genXID produces a short, sortable, process-unique id used to tag a
// peer's log lines, so following one session's lifecycle through the log
// is a single grep instead of chasing a 32-bit token that may collide
// across restarts.
func genXID() string {
	return xid.New().String()
}
