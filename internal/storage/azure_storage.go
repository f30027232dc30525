package storage

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// blobUploader is the part of *azblob.Client the archive needs
type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

type azureArchive struct {
	client    blobUploader
	account   string
	container string
}

// NewAzureArchive uploads artifacts as block blobs named runID/name
func NewAzureArchive(accountName, accountKey, containerName string) (ResultArchive, error) {
	if accountName == "" || containerName == "" {
		return nil, fmt.Errorf("azure archive needs an account and a container")
	}
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return newAzureArchive(client, accountName, containerName), nil
}

func newAzureArchive(client blobUploader, account, container string) *azureArchive {
	return &azureArchive{client: client, account: account, container: container}
}

func (s *azureArchive) Store(ctx context.Context, runID string, artifacts []Artifact) (string, error) {
	for _, a := range artifacts {
		name, err := objectName(runID, a.Name)
		if err != nil {
			return "", err
		}
		contentType := a.ContentType
		opts := &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		}
		if _, err := s.client.UploadBuffer(ctx, s.container, name, a.Data, opts); err != nil {
			return "", fmt.Errorf("upload %s failed: %w", name, err)
		}
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s/", s.account, s.container, runID), nil
}

func (s *azureArchive) Backend() string { return "azure" }
