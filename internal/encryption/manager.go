package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"admin-gate/internal/config"
	"admin-gate/internal/util"
)

var ErrDecryptionFailed = errors.New("decryption failed")

// Decrypter is the KMS operation the manager needs; *kms.Client satisfies it.
type Decrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// EncryptionManager resolves the admin credential, decrypting it with KMS
// when only a ciphertext is configured.
type EncryptionManager struct {
	kmsClient Decrypter
	config    *config.Config
}

func NewEncryptionManager(cfg *config.Config, kmsClient Decrypter) *EncryptionManager {
	return &EncryptionManager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// NewKMSClient builds a client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, region string) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// ResolveCredential returns the plaintext admin secret. A plain
// ADMIN_PASSWORD wins; otherwise the base64 ciphertext is decrypted. An
// empty result means no credential is configured.
func (em *EncryptionManager) ResolveCredential(ctx context.Context) (string, error) {
	auth := em.config.Auth
	if auth.AdminPassword != "" {
		return auth.AdminPassword, nil
	}
	if auth.AdminPasswordCipher == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth.AdminPasswordCipher))
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext is not base64", ErrDecryptionFailed)
	}

	if !em.config.KMS.Enabled {
		// In development the "ciphertext" is just the encoded secret.
		if em.config.IsDevelopment() {
			util.Warn("KMS disabled, using base64-decoded admin password")
			return string(blob), nil
		}
		return "", fmt.Errorf("%w: ADMIN_PASSWORD_CIPHERTEXT set but KMS is disabled", ErrDecryptionFailed)
	}
	if em.kmsClient == nil {
		return "", fmt.Errorf("%w: no KMS client", ErrDecryptionFailed)
	}

	var opts []func(*kms.Options)
	if em.config.KMS.Region != "" {
		opts = append(opts, func(o *kms.Options) { o.Region = em.config.KMS.Region })
	}

	input := &kms.DecryptInput{CiphertextBlob: blob}
	if em.config.KMS.KeyID != "" {
		input.KeyId = aws.String(em.config.KMS.KeyID)
	}

	result, err := em.kmsClient.Decrypt(ctx, input, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	util.Info("Admin password decrypted with KMS", zap.String("key_id", aws.ToString(result.KeyId)))
	return string(result.Plaintext), nil
}
