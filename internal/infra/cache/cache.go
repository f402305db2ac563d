package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/cardx/internal/infra/fsx"
)

// Store 提供 <cache_dir>/<key>.json 的文件缓存读写（每个 set code 一个文件，内容为原始 lookup 响应）。
//
// 约束：
// - offline：ReadOnly=true，写入返回 ErrReadOnly（删除坏缓存仍允许）
// - 单进程单写者，不做加锁
type Store struct {
	Dir      string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(dir string, readOnly bool) Store {
	return Store{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		ReadOnly: readOnly,
	}
}

// Path 返回 key 对应缓存文件的路径。
func (s Store) Path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, k+".json"), nil
}

// Read 读取缓存；ok=false 表示未命中（文件不存在不算错误）。
func (s Store) Read(key string) ([]byte, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Write 原子写入（覆盖）缓存文件。
func (s Store) Write(key string, body []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(s.Dir, k+".json", body)
}

// Remove 删除坏缓存。只读模式下也允许：坏文件留着只会让下次运行再失败一次。
func (s Store) Remove(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	return fsx.RemoveIfExists(path)
}

var keyRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func cleanKey(k string) (string, error) {
	k = strings.TrimSpace(k)
	if k == "" {
		return "", fmt.Errorf("cache key 不能为空")
	}
	// 最小约束：避免路径穿越；set code 本身只含字母数字与 '-'。
	if !keyRE.MatchString(k) || strings.Contains(k, "..") {
		return "", fmt.Errorf("非法 cache key：%q", k)
	}
	return k, nil
}
