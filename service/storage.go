package service

import (
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/airbusgeo/geocube/interface/storage"
	"github.com/airbusgeo/geocube/interface/storage/uri"
	"github.com/mholt/archiver"
)

// Extension of an archive
type Extension string

// Supported extensions
const (
	NoExtension   Extension = ""
	ExtensionZIP  Extension = "zip"
	ExtensionGZIP Extension = "gz"
)

// ErrFileNotFound is an error returned by ImportProduct
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

func isErrNotFound(err error) bool {
	var epath *os.PathError
	return errors.Is(err, gstorage.ErrObjectNotExist) ||
		(errors.As(err, &epath) && os.IsNotExist(epath))
}

// Storage is a service to store and retrieve the products (directories named by their ID)
type Storage interface {
	// SaveProduct persists the product directory into a storage and returns the uri
	SaveProduct(ctx context.Context, productDir string) (string, error)
	// ImportProduct imports the product into the given localdir (as localdir/<productID>)
	// Raise ErrFileNotFound
	ImportProduct(ctx context.Context, productID, localdir string) error
}

// StorageStrategy implements Storage using geocube.Strategy
type StorageStrategy struct {
	storage storage.Strategy
	uri     uri.DefaultUri
}

// NewStorageStrategy creates a new StorageStrategy
func NewStorageStrategy(ctx context.Context, storageURI string) (*StorageStrategy, error) {
	uri, err := uri.ParseUri(storageURI)
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy.ParseURI: %w", err)
	}

	storageClient, err := uri.NewStorageStrategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy: %w", err)
	}

	return &StorageStrategy{storage: storageClient, uri: uri}, nil
}

// SaveProduct implements Storage
func (ss *StorageStrategy) SaveProduct(ctx context.Context, productDir string) (string, error) {
	productDir = strings.TrimSuffix(productDir, "/")
	productID := filepath.Base(productDir)

	// Zip
	src := WithExt(productDir, ExtensionZIP)
	zipper := archiver.NewZip()
	zipper.CompressionLevel = flate.BestSpeed
	zipper.OverwriteExisting = true
	if err := zipper.Archive([]string{productDir}, src); err != nil {
		return "", fmt.Errorf("SaveProduct.Archive: %w", err)
	}
	defer os.Remove(src)

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("SaveProduct.Open: %w", err)
	}
	defer f.Close()

	dst := ss.getPath(productID)
	if err := ss.storage.UploadFile(ctx, dst, f); err != nil {
		return "", fmt.Errorf("SaveProduct.UploadFile to %s: %w", dst, err)
	}

	return dst, nil
}

// ImportProduct implements Storage
func (ss *StorageStrategy) ImportProduct(ctx context.Context, productID, localdir string) error {
	srcFile := ss.getPath(productID)
	dstFile := path.Join(localdir, productID+"."+string(ExtensionZIP))
	if err := ss.storage.DownloadToFile(ctx, srcFile, dstFile); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{srcFile}
		}
		return fmt.Errorf("ImportProduct.DownloadToFile from %s: %w", srcFile, err)
	}
	defer os.Remove(dstFile)

	tmpDir, err := os.MkdirTemp(localdir, "product")
	if err != nil {
		return fmt.Errorf("ImportProduct.MkdirTemp: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	zip := archiver.Zip{OverwriteExisting: true, MkdirAll: true}
	if err := zip.Unarchive(dstFile, tmpDir); err != nil {
		return fmt.Errorf("ImportProduct.Unarchive: %w", err)
	}

	// The archive contains the product directory
	src := path.Join(tmpDir, productID)
	if _, err = os.Stat(src); errors.Is(err, os.ErrNotExist) {
		src = tmpDir
	} else if err != nil {
		return fmt.Errorf("ImportProduct.Stat: %w", err)
	}
	if err := os.Rename(src, path.Join(localdir, productID)); err != nil {
		return fmt.Errorf("ImportProduct.Rename: %w", err)
	}
	return nil
}

// getPath returns the uri of the archive of the product
func (ss *StorageStrategy) getPath(productID string) string {
	uri := ss.uri.String()
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri + productID + "." + string(ExtensionZIP)
}

// CompressFile gzips the file in place (file -> file.gz)
func CompressFile(file string) (string, error) {
	dst := file + "." + string(ExtensionGZIP)
	if err := archiver.CompressFile(file, dst); err != nil {
		return "", fmt.Errorf("CompressFile[%s]: %w", file, err)
	}
	if err := os.Remove(file); err != nil {
		return "", fmt.Errorf("CompressFile[%s]: %w", file, err)
	}
	return dst, nil
}

// DecompressFile gunzips the file in place (file.gz -> file)
func DecompressFile(file string) (string, error) {
	if GetExt(file) != ExtensionGZIP {
		return "", fmt.Errorf("DecompressFile[%s]: not a gzip file", file)
	}
	dst := WithExt(file, NoExtension)
	if err := archiver.DecompressFile(file, dst); err != nil {
		return "", fmt.Errorf("DecompressFile[%s]: %w", file, err)
	}
	if err := os.Remove(file); err != nil {
		return "", fmt.Errorf("DecompressFile[%s]: %w", file, err)
	}
	return dst, nil
}

// WithExt replaces the extension of the file
func WithExt(filePath string, ext Extension) string {
	filePath = strings.TrimSuffix(filePath, filepath.Ext(filePath))
	if ext != "" {
		return fmt.Sprintf("%s.%s", filePath, string(ext))
	}
	return filePath
}

// GetExt returns the extension of the file
func GetExt(filePath string) Extension {
	return Extension(strings.TrimPrefix(path.Ext(filePath), "."))
}
