package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/google/uuid"
)

// azure implements Backend on block blobs. Multipart parts are staged
// blocks committed as a block list.
type azure struct {
	client    *azblob.Client
	container string
	// delegated is set when the client authenticates with a token
	// credential, which signs URLs with a user delegation key.
	delegated bool
}

func newAzure(cfg *Config) (*azure, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return &azure{client: client, container: cfg.ContainerName}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create storage credential: %w", err)
	}

	client, err := azblob.NewClient(cfg.ServiceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &azure{client: client, container: cfg.ContainerName, delegated: true}, nil
}

func (a *azure) containerClient() *container.Client {
	return a.client.ServiceClient().NewContainerClient(a.container)
}

func (a *azure) blockBlob(key string) *blockblob.Client {
	return a.containerClient().NewBlockBlobClient(key)
}

func (a *azure) Init(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", a.container, err)
	}
	return nil
}

func (a *azure) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := a.blockBlob(key).Upload(
		ctx,
		streaming.NopCloser(bytes.NewReader(data)),
		&blockblob.UploadOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		},
	)
	return err
}

func (a *azure) CreateMultipart(ctx context.Context, key, contentType string) (*MultipartSession, error) {
	return &MultipartSession{
		Key:         key,
		ContentType: contentType,
		UploadID:    uuid.NewString(),
	}, nil
}

// blockID is fixed width: every block id of a blob must have the same length.
func blockID(uploadID string, number int) string {
	return base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "%s-%06d", uploadID, number))
}

func (a *azure) UploadPart(ctx context.Context, session *MultipartSession, number int, data []byte) (Part, error) {
	id := blockID(session.UploadID, number)

	_, err := a.blockBlob(session.Key).StageBlock(
		ctx,
		id,
		streaming.NopCloser(bytes.NewReader(data)),
		nil,
	)
	if err != nil {
		return Part{}, fmt.Errorf("stage block %d: %w", number, err)
	}

	return Part{Number: number, ETag: id}, nil
}

func (a *azure) CompleteMultipart(ctx context.Context, session *MultipartSession, parts []Part) error {
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.ETag
	}

	_, err := a.blockBlob(session.Key).CommitBlockList(ctx, ids, &blockblob.CommitBlockListOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &session.ContentType},
	})
	return err
}

// AbortMultipart discards staged blocks. Block blobs have no explicit abort:
// when nothing was ever committed, an empty commit followed by a delete drops
// the uncommitted block list. A previously committed blob is left intact and
// its orphaned blocks expire on the service side.
func (a *azure) AbortMultipart(ctx context.Context, session *MultipartSession) error {
	exists, err := a.Exists(ctx, session.Key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	bb := a.blockBlob(session.Key)
	if _, err := bb.CommitBlockList(ctx, []string{}, nil); err != nil {
		return fmt.Errorf("discard staged blocks: %w", err)
	}
	if _, err := bb.Delete(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete placeholder blob: %w", err)
	}
	return nil
}

func (a *azure) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", key, err)
	}
	return resp.Body, nil
}

func (a *azure) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.containerClient().NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check blob existence %s: %w", key, err)
	}
	return true, nil
}

func (a *azure) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

func (a *azure) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	blobClient := a.containerClient().NewBlobClient(key)
	permissions := sas.BlobPermissions{Read: true}

	if !a.delegated {
		return blobClient.GetSASURL(permissions, time.Now().UTC().Add(expiry), nil)
	}

	start := time.Now().UTC().Add(-5 * time.Minute)
	end := time.Now().UTC().Add(expiry)

	cred, err := a.client.ServiceClient().GetUserDelegationCredential(ctx, service.KeyInfo{
		Start:  to.Ptr(start.Format(sas.TimeFormat)),
		Expiry: to.Ptr(end.Format(sas.TimeFormat)),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("get user delegation credential: %w", err)
	}

	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    end,
		Permissions:   permissions.String(),
		ContainerName: a.container,
		BlobName:      key,
	}.SignWithUserDelegation(cred)
	if err != nil {
		return "", fmt.Errorf("sign user delegation sas: %w", err)
	}

	return blobClient.URL() + "?" + params.Encode(), nil
}
