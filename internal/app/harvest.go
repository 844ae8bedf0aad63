package app

import (
	"context"
	"fmt"
	"os"
)

// Harvest performs a one-shot manual harvest outside the daemon loop. It
// honours the balance precondition and reconciles any attempt left pending by
// a previous run before submitting.
func (a *App) Harvest(ctx context.Context) error {
	symmetricKey, err := a.loadSymmetricKey()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	eng := a.newEngine(store, symmetricKey)

	if err := eng.Reconcile(ctx); err != nil {
		return err
	}

	attempt, err := eng.ManualHarvest(ctx)
	if err != nil {
		return err
	}

	switch {
	case attempt.TxHash != "":
		fmt.Fprintf(os.Stdout, "harvest submitted: attempt=%s tx=%s price=%s\n",
			attempt.ID, attempt.TxHash, attempt.Sample.Price.String())
	case attempt.FailureReason != "":
		fmt.Fprintf(os.Stdout, "harvest failed: attempt=%s reason=%s\n",
			attempt.ID, attempt.FailureReason)
	default:
		fmt.Fprintf(os.Stdout, "harvest attempt %s finished with outcome %s\n",
			attempt.ID, attempt.Outcome)
	}
	return nil
}
