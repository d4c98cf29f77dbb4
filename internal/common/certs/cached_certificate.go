package certs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/pem"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
	"github.com/G-Research/conduit/internal/common/logging"
)

var privateKeyBlockTypes = map[string]bool{
	"PRIVATE KEY":     true,
	"RSA PRIVATE KEY": true,
	"EC PRIVATE KEY":  true,
}

// LoadKeyPair builds a certificate from one or more certificate files, each of which may hold a concatenated chain,
// and exactly one private key file. It fails if no certificate or no private key can be found, or if the material
// is malformed or the key does not match the leaf certificate.
func LoadKeyPair(certPaths []string, keyPath string) (*tls.Certificate, error) {
	certPEM := &bytes.Buffer{}
	for _, path := range certPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open certificate file %s", path)
		}
		for _, block := range pemBlocks(data) {
			if block.Type == "CERTIFICATE" {
				if err := pem.Encode(certPEM, block); err != nil {
					return nil, errors.WithStack(err)
				}
			}
		}
	}
	if certPEM.Len() == 0 {
		return nil, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "certPaths",
			Value:   certPaths,
			Message: "no certificates found in file(s)",
		})
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open private key %s", keyPath)
	}
	var keyBlock *pem.Block
	for _, block := range pemBlocks(data) {
		if privateKeyBlockTypes[block.Type] {
			keyBlock = block
			break
		}
	}
	if keyBlock == nil {
		return nil, errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "keyPath",
			Value:   keyPath,
			Message: "no private key found in file",
		})
	}

	cert, err := tls.X509KeyPair(certPEM.Bytes(), pem.EncodeToMemory(keyBlock))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid certificate material in %v / %s", certPaths, keyPath)
	}
	return &cert, nil
}

func pemBlocks(data []byte) []*pem.Block {
	var blocks []*pem.Block
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return blocks
		}
		blocks = append(blocks, block)
	}
}

// CachedCertificateService holds the current certificate and reloads it when the files on disk change.
type CachedCertificateService struct {
	certPaths []string
	keyPath   string

	fileInfoLock  sync.Mutex
	certFileInfos []os.FileInfo
	keyFileInfo   os.FileInfo

	certificateLock sync.Mutex
	certificate     *tls.Certificate

	refreshInterval time.Duration
	log             *logrus.Entry
}

// NewCachedCertificateService loads the certificate once. Errors here are configuration errors and should abort startup.
func NewCachedCertificateService(certPaths []string, keyPath string, refreshInterval time.Duration, log *logrus.Entry) (*CachedCertificateService, error) {
	cert := &CachedCertificateService{
		certPaths:       certPaths,
		keyPath:         keyPath,
		refreshInterval: refreshInterval,
		log:             log,
	}
	if err := cert.refresh(); err != nil {
		return nil, err
	}
	return cert, nil
}

func (c *CachedCertificateService) GetCertificate() *tls.Certificate {
	c.certificateLock.Lock()
	defer c.certificateLock.Unlock()
	return c.certificate
}

// GetCertificateFunc is suitable for tls.Config.GetCertificate.
func (c *CachedCertificateService) GetCertificateFunc(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := c.GetCertificate()
	if cert == nil {
		return nil, errors.New("unexpectedly received nil from certificate cache")
	}
	return cert, nil
}

func (c *CachedCertificateService) updateCertificate(certificate *tls.Certificate) {
	c.certificateLock.Lock()
	defer c.certificateLock.Unlock()
	c.certificate = certificate
}

// Run re-reads the files every refresh interval until ctx is cancelled. A failed reload keeps the previous certificate.
func (c *CachedCertificateService) Run(ctx context.Context) {
	if c.refreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(); err != nil {
				logging.WithStacktrace(c.log, err).
					Errorf("failed refreshing certificate from files cert: %v key: %s", c.certPaths, c.keyPath)
			}
		}
	}
}

func (c *CachedCertificateService) refresh() error {
	updatedCertFileInfos := make([]os.FileInfo, 0, len(c.certPaths))
	for _, path := range c.certPaths {
		info, err := os.Stat(path)
		if err != nil {
			return errors.WithStack(err)
		}
		updatedCertFileInfos = append(updatedCertFileInfos, info)
	}
	updatedKeyFileInfo, err := os.Stat(c.keyPath)
	if err != nil {
		return errors.WithStack(err)
	}

	if !c.modified(updatedCertFileInfos, updatedKeyFileInfo) {
		return nil
	}

	c.log.Infof("refreshing certificate from files cert: %v key: %s", c.certPaths, c.keyPath)
	cert, err := LoadKeyPair(c.certPaths, c.keyPath)
	if err != nil {
		return err
	}
	c.updateData(updatedCertFileInfos, updatedKeyFileInfo, cert)
	return nil
}

func (c *CachedCertificateService) modified(certFileInfos []os.FileInfo, keyFileInfo os.FileInfo) bool {
	c.fileInfoLock.Lock()
	defer c.fileInfoLock.Unlock()
	if c.keyFileInfo == nil || keyFileInfo.ModTime().After(c.keyFileInfo.ModTime()) {
		return true
	}
	for i, info := range certFileInfos {
		if info.ModTime().After(c.certFileInfos[i].ModTime()) {
			return true
		}
	}
	return false
}

func (c *CachedCertificateService) updateData(certFileInfos []os.FileInfo, keyFileInfo os.FileInfo, newCert *tls.Certificate) {
	c.fileInfoLock.Lock()
	defer c.fileInfoLock.Unlock()
	c.certFileInfos = certFileInfos
	c.keyFileInfo = keyFileInfo

	c.updateCertificate(newCert)
}
