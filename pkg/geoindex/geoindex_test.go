package geoindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridhop/transferpatterns/pkg/config"
	"github.com/gridhop/transferpatterns/pkg/tpmodel"
)

func TestConnectBlankAddressDisablesGeoResolution(t *testing.T) {
	idx, err := Connect(config.ElasticsearchConfig{})
	require.NoError(t, err)

	stops, err := idx.NearestStops(51.5, -0.1, 500)
	require.NoError(t, err)
	assert.Nil(t, stops)

	assert.NoError(t, idx.IndexStops([]*tpmodel.Stop{{PrimaryIdentifier: "A"}}))
}
