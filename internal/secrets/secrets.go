// Package secrets reads JSON secrets from AWS Secrets Manager.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/aburke/highgarden/internal/reference"
)

// ErrMissingKey is returned when a secret lacks a required key.
var ErrMissingKey = errors.New("secret key missing")

// Environment variables overriding database secret values.
const (
	EnvCustomerDB         = "CUSTOMER_DB"
	EnvCustomerDBUser     = "CUSTOMER_DB_USER"
	EnvCustomerDBHost     = "CUSTOMER_DB_HOST"
	EnvCustomerDBPassword = "CUSTOMER_DB_PASSWORD"
)

// GetSecretAPI is the subset of the Secrets Manager client used here.
type GetSecretAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Manager fetches and decodes secrets.
type Manager struct {
	client    GetSecretAPI
	lookupEnv func(string) (string, bool)
}

// NewManager returns a Manager using client.
func NewManager(client GetSecretAPI) *Manager {
	return &Manager{client: client, lookupEnv: os.LookupEnv}
}

// Fetch returns the JSON object stored in secretID with every value
// rendered as a string.
func (m *Manager) Fetch(ctx context.Context, secretID string) (map[string]string, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", secretID, err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &raw); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", secretID, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			values[k] = t
		case float64:
			values[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case nil:
			values[k] = ""
		default:
			values[k] = fmt.Sprint(t)
		}
	}
	return values, nil
}

// DatabaseCredentials reads the customer database secret. Each of
// database, user, host and password may be overridden by its CUSTOMER_DB*
// environment variable.
func (m *Manager) DatabaseCredentials(ctx context.Context, secretID string) (reference.Credentials, error) {
	values, err := m.Fetch(ctx, secretID)
	if err != nil {
		return reference.Credentials{}, err
	}

	pick := func(env, key string) (string, error) {
		if v, ok := m.lookupEnv(env); ok {
			return v, nil
		}
		v, ok := values[key]
		if !ok {
			return "", fmt.Errorf("%w: %s in %s", ErrMissingKey, key, secretID)
		}
		return v, nil
	}

	var creds reference.Credentials
	fields := []struct {
		dst *string
		env string
		key string
	}{
		{&creds.Database, EnvCustomerDB, "database"},
		{&creds.User, EnvCustomerDBUser, "user"},
		{&creds.Host, EnvCustomerDBHost, "host"},
		{&creds.Password, EnvCustomerDBPassword, "password"},
	}
	for _, f := range fields {
		if *f.dst, err = pick(f.env, f.key); err != nil {
			return reference.Credentials{}, err
		}
	}
	creds.Port = values["port"]
	return creds, nil
}

// SlackToken reads the bot token stored under "token" in secretID.
func (m *Manager) SlackToken(ctx context.Context, secretID string) (string, error) {
	values, err := m.Fetch(ctx, secretID)
	if err != nil {
		return "", err
	}
	token, ok := values["token"]
	if !ok || token == "" {
		return "", fmt.Errorf("%w: token in %s", ErrMissingKey, secretID)
	}
	return token, nil
}
