package outbox

import "context"

// Append is the C9 producer entry point: a thin wrapper so callers write
// `outbox.Append(ctx, repo, tx, ev)` at an order/aggregate write site
// without naming the Repository variable twice.
func Append(ctx context.Context, repo Repository, tx Appender, ev Event) error {
	return repo.Append(ctx, tx, ev)
}
