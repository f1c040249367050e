package storage

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemStore_GetSet(t *testing.T) {
	s := NewMemStore()

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, found, err := s.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found {
		t.Fatal("key not found")
	}
	if !bytes.Equal(val, []byte("v")) {
		t.Errorf("val = %q, want %q", val, "v")
	}

	_, found, err = s.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found {
		t.Error("absent key reported found")
	}
}

func TestMemStore_Has(t *testing.T) {
	s := NewMemStore()

	ok, err := s.Has([]byte("k"))
	if err != nil || ok {
		t.Errorf("Has(absent) = %v, %v", ok, err)
	}
	s.Set([]byte("k"), []byte("v"))
	ok, err = s.Has([]byte("k"))
	if err != nil || !ok {
		t.Errorf("Has(present) = %v, %v", ok, err)
	}
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	s := NewMemStore()
	s.Set([]byte("k"), []byte("abc"))

	val, _, _ := s.Get([]byte("k"))
	val[0] = 'x'

	again, _, _ := s.Get([]byte("k"))
	if !bytes.Equal(again, []byte("abc")) {
		t.Errorf("mutating a returned value changed the store: %q", again)
	}
}

func TestMemStore_BatchAtomicity(t *testing.T) {
	s := NewMemStore()

	b := s.NewBatch()
	defer b.Close()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))

	// Staged writes are invisible before commit
	if ok, _ := s.Has([]byte("a")); ok {
		t.Error("staged write visible before commit")
	}

	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if ok, _ := s.Has([]byte(k)); !ok {
			t.Errorf("key %q missing after commit", k)
		}
	}
}

func TestMemStore_DiscardedBatch(t *testing.T) {
	s := NewMemStore()

	b := s.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Close()

	if ok, _ := s.Has([]byte("a")); ok {
		t.Error("closed batch leaked writes")
	}
}

func TestEncodeDecodeUint64(t *testing.T) {
	for _, n := range []uint64{0, 1, 255, 1 << 32, ^uint64(0)} {
		if got := DecodeUint64(EncodeUint64(n)); got != n {
			t.Errorf("round trip %d -> %d", n, got)
		}
	}
}

func TestKeys(t *testing.T) {
	addr := common.HexToAddress("0xAA00000000000000000000000000000000000000")

	if !bytes.HasPrefix(BalanceKey(addr), []byte("bal:")) {
		t.Errorf("balance key prefix wrong: %q", BalanceKey(addr))
	}
	if !bytes.HasPrefix(ResidentKey(addr), []byte("res:")) {
		t.Errorf("resident key prefix wrong: %q", ResidentKey(addr))
	}
	if !bytes.HasPrefix(NonceKey(addr), []byte("nonce:")) {
		t.Errorf("nonce key prefix wrong: %q", NonceKey(addr))
	}

	// Order keys are zero-padded so lexicographic order matches numeric order
	if bytes.Compare(OrderKey(2), OrderKey(10)) >= 0 {
		t.Error("order keys do not sort numerically")
	}
	if bytes.Compare(SettlementKey(2), SettlementKey(10)) >= 0 {
		t.Error("settlement keys do not sort numerically")
	}
}
