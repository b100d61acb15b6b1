package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureStore puts blobs into one container. The account URL carries a SAS
// token granting write access.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore creates a store for container behind accountURL.
func NewAzureStore(accountURL, container string) (*AzureStore, error) {
	if container == "" {
		return nil, fmt.Errorf("azure container is required")
	}
	client, err := azblob.NewClientWithNoCredential(accountURL, &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: 3},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (a *AzureStore) Name() string { return "azure" }

// Put uploads localPath as the blob key.
func (a *AzureStore) Put(ctx context.Context, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := a.client.UploadFile(ctx, a.container, key, file, nil); err != nil {
		return fmt.Errorf("failed to upload %s to container %s: %w", key, a.container, err)
	}
	return nil
}

var _ Store = (*AzureStore)(nil)
