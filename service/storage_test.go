package service

import (
	"context"
	"errors"
	"os"
	"path"
	"testing"
)

func initLocalDirs(t *testing.T) (string, string, string) {
	return t.TempDir(), t.TempDir(), t.TempDir()
}

func createProduct(dir, id string) {
	os.Mkdir(path.Join(dir, id), 0755)
	os.WriteFile(path.Join(dir, id, id+".met.json"), []byte("{}"), 0644)
	os.Mkdir(path.Join(dir, id, "browse"), 0755)
	os.WriteFile(path.Join(dir, id, "browse", "ifg.png"), []byte("png"), 0644)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()

	localdir, distdir, localdir2 := initLocalDirs(t)
	productID := "filtered-ifg-stack_S1-TN064-20190101T000000Z-20190301T000000Z-1a2b3-v0.1"
	createProduct(localdir, productID)

	storage, err := NewStorageStrategy(ctx, distdir)
	if err != nil {
		t.Fatal(err)
	}

	testStorage(t, ctx, localdir, localdir2, productID, storage)
}

func testStorage(t *testing.T, ctx context.Context, localdir, localdir2, productID string, storage Storage) {
	// Save product
	if _, err := storage.SaveProduct(ctx, path.Join(localdir, productID)); err != nil {
		t.Error(err)
	}

	// Import product
	if err := storage.ImportProduct(ctx, productID, localdir2); err != nil {
		t.Error(err)
	}

	// Verif
	if _, err := os.Stat(path.Join(localdir2, productID, productID+".met.json")); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(path.Join(localdir2, productID, "browse", "ifg.png")); err != nil {
		t.Error(err)
	}

	// Import deleted product
	if err := storage.ImportProduct(ctx, productID, t.TempDir()); err == nil {
		t.Errorf("expected an error on a deleted product")
	}
}

func TestCompressFile(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "RAW-STACK.h5")
	if err := os.WriteFile(file, []byte("hdf5 content"), 0644); err != nil {
		t.Fatal(err)
	}
	gz, err := CompressFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if gz != file+".gz" {
		t.Errorf("expected %s, got %s", file+".gz", gz)
	}
	if _, err := os.Stat(file); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("%s must be removed", file)
	}
	if _, err := DecompressFile(file); err == nil {
		t.Errorf("expected an error on a non-gz file")
	}
	raw, err := DecompressFile(gz)
	if err != nil {
		t.Fatal(err)
	}
	if b, err := os.ReadFile(raw); err != nil || string(b) != "hdf5 content" {
		t.Errorf("unexpected content %s (%v)", b, err)
	}
}

func TestExt(t *testing.T) {
	if e := GetExt("a/b/RAW-STACK.h5.gz"); e != ExtensionGZIP {
		t.Errorf("GetExt: got %s", e)
	}
	if e := GetExt("a/b/noext"); e != NoExtension {
		t.Errorf("GetExt: got %s", e)
	}
	if f := WithExt("a/b/product.zip", NoExtension); f != "a/b/product" {
		t.Errorf("WithExt: got %s", f)
	}
}
