package core

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
)

func normalizeReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", newError(KindInvalidArgument, "reference number is required")
	}
	return ref, nil
}

// registerReferenceTx claims ref in the namespace shared by acquisitions,
// relocations and consumptions. A second claim fails with DuplicateReference.
func registerReferenceTx(ctx context.Context, tx pgx.Tx, ref, movementType string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO movement_references (reference_number, movement_type)
		VALUES ($1, $2)
	`, ref, movementType)
	if err != nil {
		err = translateDBError(err, "failed to register reference number")
		if KindOf(err) == KindDuplicateReference {
			return newError(KindDuplicateReference, "reference number %q already used", ref)
		}
		return err
	}
	return nil
}
