package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"teacher_scenario_backend/pkg/logger"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageProvider 评估原始数据的对象存储
type StorageProvider interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LocalStorageProvider 本地存储实现
type LocalStorageProvider struct {
	Config *config.StorageConfig
}

func (p *LocalStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	dst := filepath.Join(p.Config.LocalPath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", err
	}
	return dst, nil
}

// MinioStorageProvider MinIO存储实现
type MinioStorageProvider struct {
	Config *config.StorageConfig
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Config: cfg, Client: client}, nil
}

func (p *MinioStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Config.MinioBucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return "/" + p.Config.MinioBucket + "/" + key, nil
}

// OSSStorageProvider 阿里云OSS存储实现
type OSSStorageProvider struct {
	Config *config.StorageConfig
	Client *oss.Client
}

func NewOSSStorageProvider(cfg *config.StorageConfig) (*OSSStorageProvider, error) {
	client, err := oss.New(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey)
	if err != nil {
		return nil, err
	}
	return &OSSStorageProvider{Config: cfg, Client: client}, nil
}

func (p *OSSStorageProvider) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	bucket, err := p.Client.Bucket(p.Config.OSSBucket)
	if err != nil {
		return "", err
	}
	if err := bucket.PutObject(key, bytes.NewReader(data), oss.ContentType(contentType), oss.WithContext(ctx)); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s.%s/%s", p.Config.OSSBucket, p.Config.OSSEndpoint, key), nil
}

// NewStorageProvider 根据 storage.type 选择实现，初始化失败时退回本地存储
func NewStorageProvider(cfg *config.StorageConfig) StorageProvider {
	switch cfg.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(cfg)
		if err == nil {
			return p
		}
		logStorageFallback(cfg.Type, err)
	case util.StorageOSS:
		p, err := NewOSSStorageProvider(cfg)
		if err == nil {
			return p
		}
		logStorageFallback(cfg.Type, err)
	}
	return &LocalStorageProvider{Config: cfg}
}

func logStorageFallback(storageType string, err error) {
	logger.Log.Warn("Failed to initialize object storage, falling back to local",
		zap.String("type", storageType), zap.Error(err))
}

// EvaluationArchive 保存评估服务返回的完整会话（含对外隐藏的 transcript），用于审计
type EvaluationArchive struct {
	Provider StorageProvider
	now      func() time.Time
}

func NewEvaluationArchive(provider StorageProvider) *EvaluationArchive {
	return &EvaluationArchive{Provider: provider, now: time.Now}
}

type archivedEvaluation struct {
	TeacherID     uint            `json:"teacherId"`
	ScenarioID    string          `json:"scenarioId"`
	AttemptNumber int             `json:"attemptNumber"`
	SessionID     string          `json:"sessionId"`
	Outcome       string          `json:"outcome"`
	RecordedAt    time.Time       `json:"recordedAt"`
	Session       json.RawMessage `json:"session,omitempty"`
}

func ArchiveKey(attempt *model.ScenarioAttempt, id string) string {
	return fmt.Sprintf("teachers/%d/scenarios/%s/attempt-%d-%s.json",
		attempt.TeacherID, attempt.ScenarioID, attempt.AttemptNumber, id)
}

// Archive 没有原始数据时不写入
func (a *EvaluationArchive) Archive(ctx context.Context, attempt *model.ScenarioAttempt, snapshot *EvaluationSnapshot) error {
	if snapshot == nil || len(snapshot.Raw) == 0 {
		return nil
	}
	doc := archivedEvaluation{
		TeacherID:     attempt.TeacherID,
		ScenarioID:    attempt.ScenarioID,
		AttemptNumber: attempt.AttemptNumber,
		SessionID:     snapshot.SessionID,
		Outcome:       snapshot.Outcome.String(),
		RecordedAt:    a.now().UTC(),
		Session:       json.RawMessage(snapshot.Raw),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = a.Provider.Put(ctx, ArchiveKey(attempt, uuid.NewString()), data, util.MimeJSON)
	return err
}
