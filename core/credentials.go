package core

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"talkai-gateway/models"
)

// KeyStore 上游密钥列表，启动时加载一次，之后只读
type KeyStore struct {
	keys []string
}

// NewKeyStore 用给定的密钥构造（空条目被丢弃）
func NewKeyStore(keys ...string) *KeyStore {
	s := &KeyStore{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			s.keys = append(s.keys, k)
		}
	}
	return s
}

// LoadKeyStore 读取 JSON 数组格式的密钥文件，"enc:" 条目通过 sp 解密
func LoadKeyStore(path string, sp SecretProvider) (*KeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Message: "failed to read key file", Cause: err}
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Source: path, Message: "key file must be a JSON array of strings", Cause: err}
	}

	keys := make([]string, 0, len(raw))
	for i, entry := range raw {
		plain, err := sp.Decrypt(entry)
		if err != nil {
			return nil, &ConfigError{Source: path, Message: fmt.Sprintf("failed to decrypt entry %d", i), Cause: err}
		}
		keys = append(keys, plain)
	}
	return NewKeyStore(keys...), nil
}

// Len 密钥数量
func (s *KeyStore) Len() int {
	return len(s.keys)
}

// Primary 第一个密钥作为当前使用的密钥
func (s *KeyStore) Primary() (string, bool) {
	if len(s.keys) == 0 {
		return "", false
	}
	return s.keys[0], true
}

// ServiceSecret 入站鉴权密钥集合
type ServiceSecret struct {
	digests [][sha256.Size]byte
}

// NewServiceSecret 构造；空集合表示没有可用密钥
func NewServiceSecret(secrets ...string) *ServiceSecret {
	s := &ServiceSecret{}
	for _, v := range secrets {
		if v = strings.TrimSpace(v); v != "" {
			s.digests = append(s.digests, sha256.Sum256([]byte(v)))
		}
	}
	return s
}

// Len 可接受的密钥数量
func (s *ServiceSecret) Len() int {
	return len(s.digests)
}

// Verify 常量时间比较；先做摘要以消除长度差异，并遍历全部条目
func (s *ServiceSecret) Verify(token string) bool {
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	match := 0
	for i := range s.digests {
		match |= subtle.ConstantTimeCompare(sum[:], s.digests[i][:])
	}
	return match == 1
}

// Credentials 启动时解析出的全部凭据，进程内只读
type Credentials struct {
	Service     *ServiceSecret
	Upstream    *KeyStore
	UpstreamKey string
}

// CredentialResolver 解析入站密钥和上游密钥
type CredentialResolver struct {
	Password        string // 环境变量 PASSWORD 的值
	ServiceKeyFile  string
	UpstreamKeyFile string
	Secrets         SecretProvider
	Logger          *logrus.Logger
}

// ResolveServiceSecret 优先使用 PASSWORD（逗号分隔），否则取本地密钥文件的第一个条目
func (r *CredentialResolver) ResolveServiceSecret() (*ServiceSecret, error) {
	if strings.TrimSpace(r.Password) != "" {
		secret := NewServiceSecret(strings.Split(r.Password, ",")...)
		if secret.Len() > 0 {
			r.Logger.Infof("Loaded %d service auth key(s) from environment variable (PASSWORD)", secret.Len())
			return secret, nil
		}
	}

	if r.ServiceKeyFile == "" {
		return nil, &ConfigError{Source: "PASSWORD", Message: "no service secret configured"}
	}
	store, err := LoadKeyStore(r.ServiceKeyFile, r.secrets())
	if err != nil {
		return nil, &ConfigError{Source: "PASSWORD", Message: "PASSWORD is not set and no local service key is available", Cause: err}
	}
	key, ok := store.Primary()
	if !ok {
		return nil, &ConfigError{Source: r.ServiceKeyFile, Message: "PASSWORD is not set and the service key file is empty"}
	}

	r.Logger.Warnf("PASSWORD not set, using service key from %s (local development only)", r.ServiceKeyFile)
	return NewServiceSecret(key), nil
}

// ResolveUpstreamKey 读取上游密钥文件，选择第一个条目
func (r *CredentialResolver) ResolveUpstreamKey() (*KeyStore, string, error) {
	store, err := LoadKeyStore(r.UpstreamKeyFile, r.secrets())
	if err != nil {
		return nil, "", err
	}
	key, ok := store.Primary()
	if !ok {
		return nil, "", &ConfigError{Source: r.UpstreamKeyFile, Message: "upstream key file contains no keys"}
	}

	r.Logger.Infof("Loaded TalkAI API key %s from %s", models.MaskAPIKey(key), r.UpstreamKeyFile)
	return store, key, nil
}

// Resolve 启动时一次性解析；任一失败都应终止启动
func (r *CredentialResolver) Resolve() (*Credentials, error) {
	service, err := r.ResolveServiceSecret()
	if err != nil {
		return nil, err
	}
	store, key, err := r.ResolveUpstreamKey()
	if err != nil {
		return nil, err
	}
	return &Credentials{Service: service, Upstream: store, UpstreamKey: key}, nil
}

func (r *CredentialResolver) secrets() SecretProvider {
	if r.Secrets == nil {
		return NewNoOpSecretProvider()
	}
	return r.Secrets
}
