package output

import "context"

// TransactionManager scopes repository writes to one atomic commit. The
// execution state machine uses it so a record mutation and its journal
// append are a single durable write.
type TransactionManager interface {
	// InTransaction runs fn inside a transaction carried by the context.
	// Repositories pick the transaction up from the context; a returned
	// error rolls everything back.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
