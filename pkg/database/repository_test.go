package database

import "testing"

func TestBaseRepositoryQuerierFallsBackToDB(t *testing.T) {
	db := &DB{}
	repo := NewBaseRepository(db)
	if repo.DB() != db {
		t.Fatalf("DB() = %v, want %v", repo.DB(), db)
	}
	if repo.Tx() != nil {
		t.Fatalf("Tx() = %v, want nil before WithTx", repo.Tx())
	}
	if q := repo.Querier(); q != db.DB {
		t.Errorf("Querier() outside a transaction = %v, want db.DB", q)
	}
}

func TestBaseRepositoryWithTxScopesQuerier(t *testing.T) {
	db := &DB{}
	repo := NewBaseRepository(db)

	scoped := repo.WithTx(nil)
	if scoped.DB() != db {
		t.Errorf("WithTx(nil).DB() = %v, want %v", scoped.DB(), db)
	}
	if scoped.Tx() != nil {
		t.Errorf("WithTx(nil).Tx() = %v, want nil", scoped.Tx())
	}
}
