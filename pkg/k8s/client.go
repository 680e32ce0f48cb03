// Package k8s keeps small pieces of shared state (the cache version, the
// instance ID, API keys) in ConfigMaps and Secrets
package k8s

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/lissto-dev/imagecache/pkg/logging"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "imagecache"
)

// Client wraps a controller-runtime client
type Client struct {
	client.Client
}

// NewClient creates a new Kubernetes client.
// If inCluster is true, uses in-cluster config. Otherwise, uses kubeconfig.
func NewClient(inCluster bool, kubeconfigPath string) (*Client, error) {
	log.SetLogger(ctrlzap.New(ctrlzap.UseDevMode(false)))

	config, err := restConfig(inCluster, kubeconfigPath)
	if err != nil {
		logging.Logger.Error("Failed to load Kubernetes config",
			zap.Bool("in_cluster", inCluster),
			zap.String("kubeconfig", kubeconfigPath),
			zap.Error(err))
		return nil, err
	}

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to add client-go scheme: %w", err)
	}

	c, err := client.New(config, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return &Client{Client: c}, nil
}

func restConfig(inCluster bool, kubeconfigPath string) (*rest.Config, error) {
	if inCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get in-cluster config: %w", err)
		}
		return config, nil
	}
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}
	return config, nil
}

// Wrap adapts an existing controller-runtime client, e.g. a fake one in tests
func Wrap(c client.Client) *Client {
	return &Client{Client: c}
}

// ConfigMapValue reads one key of a ConfigMap. A missing ConfigMap or key
// reads as "".
func (c *Client) ConfigMapValue(ctx context.Context, namespace, name, key string) (string, error) {
	cm := &corev1.ConfigMap{}
	if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, cm); err != nil {
		if errors.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return cm.Data[key], nil
}

// SetConfigMapValue writes one key of a ConfigMap, creating it if needed.
// Other keys are left alone.
func (c *Client) SetConfigMapValue(ctx context.Context, namespace, name, key, value string) error {
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	op, err := controllerutil.CreateOrUpdate(ctx, c.Client, cm, func() error {
		labelNew(&cm.ObjectMeta)
		if cm.Data == nil {
			cm.Data = make(map[string]string)
		}
		cm.Data[key] = value
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write configmap %s/%s: %w", namespace, name, err)
	}
	logging.Logger.Debug("ConfigMap written",
		zap.String("configmap", namespace+"/"+name),
		zap.String("key", key),
		zap.String("op", string(op)))
	return nil
}

// SecretValue reads one key of a Secret. A missing Secret or key reads as nil.
func (c *Client) SecretValue(ctx context.Context, namespace, name, key string) ([]byte, error) {
	secret := &corev1.Secret{}
	if err := c.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, secret); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return secret.Data[key], nil
}

// SetSecretValue writes one key of a Secret, creating it if needed
func (c *Client) SetSecretValue(ctx context.Context, namespace, name, key string, value []byte) error {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	_, err := controllerutil.CreateOrUpdate(ctx, c.Client, secret, func() error {
		labelNew(&secret.ObjectMeta)
		if secret.Data == nil {
			secret.Data = make(map[string][]byte)
		}
		secret.Data[key] = value
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write secret %s/%s: %w", namespace, name, err)
	}
	return nil
}

// labelNew marks objects this service creates; existing objects keep their labels
func labelNew(meta *metav1.ObjectMeta) {
	if meta.ResourceVersion != "" {
		return
	}
	if meta.Labels == nil {
		meta.Labels = make(map[string]string)
	}
	meta.Labels[managedByLabel] = managedByValue
}
