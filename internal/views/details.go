package views

import (
	"context"

	"github.com/huntermatuse/crowsong/internal/convert"
	"github.com/huntermatuse/crowsong/internal/model"
	"github.com/huntermatuse/crowsong/internal/viewsapi"
	"google.golang.org/protobuf/types/known/emptypb"
)

// DatasetInfo returns the properties of a dataset by name.
func (c *Client) DatasetInfo(ctx context.Context, view, dataset string) (map[string]string, error) {
	req := viewsapi.New("GetDatasetInfoRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.SetString(req, "dataset_name", dataset)
	resp, err := c.invoke(ctx, viewsapi.MethodGetDatasetInfo, req, "GetDatasetInfoResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoDatasetInfo(resp), nil
}

// TagInfo describes tags of view.
func (c *Client) TagInfo(ctx context.Context, view string, tags []string) ([]model.TagInfo, error) {
	req := viewsapi.New("GetTagInfoRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.AppendStrings(req, "tag_names", tags...)
	resp, err := c.invoke(ctx, viewsapi.MethodGetTagInfo, req, "GetTagInfoResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoTagInfos(resp), nil
}

// DataContext returns the stored time range of tags of view.
func (c *Client) DataContext(ctx context.Context, view string, tags []string) ([]model.DataContext, error) {
	req := viewsapi.New("GetTagDataContextRequest")
	viewsapi.SetString(req, "view", view)
	viewsapi.AppendStrings(req, "tag_names", tags...)
	resp, err := c.invoke(ctx, viewsapi.MethodGetTagDataContext, req, "GetTagDataContextResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoDataContexts(resp), nil
}

// Aggregates lists the processing functions the service offers.
func (c *Client) Aggregates(ctx context.Context) ([]model.Aggregate, error) {
	resp, err := c.invoke(ctx, viewsapi.MethodGetAggregateList, &emptypb.Empty{}, "GetAggregateListResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoAggregates(resp), nil
}

// AggregateData returns one processed value per q.Interval for each tag.
func (c *Client) AggregateData(ctx context.Context, q model.AggregateQuery) (model.Series, error) {
	req, err := convert.ToProtoAggregateDataRequest(q)
	if err != nil {
		return nil, err
	}
	resp, err := c.invoke(ctx, viewsapi.MethodGetAggregateData, req, "GetAggregateDataResponse")
	if err != nil {
		return nil, err
	}
	return convert.FromProtoAggregateData(resp), nil
}

// Statistics summarizes one tag over a window.
func (c *Client) Statistics(ctx context.Context, q model.StatisticsQuery) (model.Statistics, error) {
	req, err := convert.ToProtoTagStatisticsRequest(q)
	if err != nil {
		return model.Statistics{}, err
	}
	resp, err := c.invoke(ctx, viewsapi.MethodGetTagStatistics, req, "GetTagStatisticsResponse")
	if err != nil {
		return model.Statistics{}, err
	}
	return convert.FromProtoStatistics(resp), nil
}
