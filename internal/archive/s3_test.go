package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubSeams(t *testing.T) {
	t.Helper()
	origLoad, origNew, origPut := loadDefaultAWSConfig, newS3ClientFromConfig, putObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, putObject = origLoad, origNew, origPut
	})
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		if lo.Region != "eu-north-1" {
			t.Fatalf("region not applied: %q", lo.Region)
		}
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		require.NotNil(t, opts.BaseEndpoint)
		assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
		return &s3.Client{}
	}
}

func entries() []*models.ChangeEntry {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var out []*models.ChangeEntry
	for i, p := range []string{"a", "b", "c"} {
		out = append(out, &models.ChangeEntry{
			SequenceNo:   uint64(i + 11),
			LogDevice:    "phc",
			RecordID:     "v" + p,
			RecordType:   models.RecordTypeVisit,
			Version:      1,
			Payload:      []byte(p),
			OriginDevice: "dev-A",
			ProducedAt:   at,
			Digest:       cryptox.Digest([]byte(p), false),
		})
	}
	return out
}

func newArchiver() *S3Archiver {
	return NewS3Archiver(S3Config{
		Region:       "eu-north-1",
		User:         "minioadmin",
		Password:     "minioadmin",
		BaseEndpoint: "http://127.0.0.1:9000",
		Bucket:       "fieldsync",
		Prefix:       "archive",
	}, logging.Nop())
}

func TestArchive_PutsRangeObject(t *testing.T) {
	stubSeams(t)
	var stored []byte
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		assert.Equal(t, "fieldsync", aws.ToString(in.Bucket))
		assert.Equal(t, "archive/changes/phc/00000000000000000011-00000000000000000013.bin", aws.ToString(in.Key))
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		stored = b
		return &s3.PutObjectOutput{}, nil
	}
	a := newArchiver()
	want := entries()
	require.NoError(t, a.Archive(context.Background(), "phc", want))
	require.NotEmpty(t, stored)

	// the object is a final wire batch up to the last entry
	b := &wire.Batch{}
	require.NoError(t, b.UnmarshalWire(stored))
	assert.True(t, b.Final)
	assert.Equal(t, uint64(13), b.UpTo)
	require.Len(t, b.Entries, 3)
	for i := range want {
		got := b.Entries[i].ToModel()
		assert.Equal(t, want[i].SequenceNo, got.SequenceNo)
		assert.Equal(t, want[i].Payload, got.Payload)
		assert.True(t, want[i].ProducedAt.Equal(got.ProducedAt))
		assert.True(t, cryptox.Verify(got.Payload, got.Deleted, got.Digest))
	}
}

func TestArchive_Errors(t *testing.T) {
	stubSeams(t)
	putObject = func(*s3.Client, context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, errors.New("bucket gone")
	}
	err := newArchiver().Archive(context.Background(), "phc", entries())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	err = newArchiver().Archive(context.Background(), "phc", entries())
	assert.ErrorContains(t, err, "no config")
}

func TestArchive_EmptyRangeIsNoop(t *testing.T) {
	stubSeams(t)
	putObject = func(*s3.Client, context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		t.Fatal("nothing to put")
		return nil, nil
	}
	require.NoError(t, newArchiver().Archive(context.Background(), "phc", nil))
	require.NoError(t, Noop{}.Archive(context.Background(), "dev-A", entries()))
}
