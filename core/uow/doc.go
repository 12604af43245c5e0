// Package uow implements the unit of work: the transaction boundary that
// buffers aggregate saves and event publication and drives commit and
// rollback.
//
// The current unit of work travels in a [context.Context]. Starting a unit
// while another one is current nests it: the inner unit registers with the
// outer one and its commit is only finalized when the outer commits.
//
//	ctx, u, err := uow.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	acc, err := repo.Load(ctx, id)
//	if err != nil {
//	    u.Rollback(ctx, err)
//	    return err
//	}
//	acc.Deposit(10)
//	return u.Commit(ctx)
//
// [Run] wraps this pattern. Cleanup listeners run exactly once per
// lifecycle, whichever way the unit ends.
package uow
