package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	calls  int
	params map[string]string
	err    error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("expected decryption")
	}
	v, ok := f.params[aws.ToString(in.Name)]
	if !ok {
		return nil, &types.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

func TestGetParameter_MemoizesValues(t *testing.T) {
	api := &fakeSSM{params: map[string]string{"/mediro/google-signin": `{"clientId":"cid"}`}}
	client, err := New(api)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := client.GetParameter(context.Background(), " /mediro/google-signin ")
		require.NoError(t, err)
		require.Equal(t, `{"clientId":"cid"}`, v)
	}
	require.Equal(t, 1, api.calls)
}

func TestGetParameter_NotFound(t *testing.T) {
	client, err := New(&fakeSSM{params: map[string]string{}})
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/mediro/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_Errors(t *testing.T) {
	client, err := New(&fakeSSM{err: errors.New("throttled")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/p")
	require.ErrorContains(t, err, "throttled")
	require.NotErrorIs(t, err, ErrNotFound)

	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &nilValueSSM{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "/p")
	require.ErrorContains(t, err, "no value")
}

type nilValueSSM struct{}

func (nilValueSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name}}, nil
}

type fakeGetter struct {
	vals map[string]string
	err  error
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.vals[name], nil
}

func TestGetJSON(t *testing.T) {
	var gs GoogleSignIn
	require.NoError(t, GetJSON(context.Background(), &fakeGetter{vals: map[string]string{"/p/x": `{"clientId":"abc"}`}}, "/p/x", &gs))
	require.Equal(t, "abc", gs.ClientID)

	err := GetJSON(context.Background(), &fakeGetter{vals: map[string]string{"/p/x": `{"broken`}}, "/p/x", &gs)
	require.ErrorContains(t, err, "decode")

	require.Error(t, GetJSON(context.Background(), nil, "/p/x", &gs))
}

func TestLoadGoogleSignIn(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{"/mediro/google-signin": `{"clientId":"cid","scopes":["openid","email"]}`}}
	gs, err := LoadGoogleSignIn(context.Background(), g, "/mediro/")
	require.NoError(t, err)
	require.Equal(t, "cid", gs.ClientID)
	require.Equal(t, []string{"openid", "email"}, gs.Scopes)

	_, err = LoadGoogleSignIn(context.Background(), &fakeGetter{vals: map[string]string{"/mediro/google-signin": `{}`}}, "/mediro")
	require.ErrorContains(t, err, "client id is empty")

	_, err = LoadGoogleSignIn(context.Background(), g, " ")
	require.Error(t, err)

	client, err := New(&fakeSSM{params: map[string]string{}})
	require.NoError(t, err)
	_, err = LoadGoogleSignIn(context.Background(), client, "/mediro")
	require.ErrorIs(t, err, ErrNotFound)
}
