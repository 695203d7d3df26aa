/*
 * Copyright 2022 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tokentable

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names and their fallback values for records with missing
// fields. A record with missing fields is kept with the fallbacks rather
// than failing the whole scan.
const (
	attributeToken     = "token"
	attributeIPAddress = "ipAddress"
	attributePort      = "port"

	defaultToken     = "<NO_TOKEN>"
	defaultIPAddress = "127.0.0.1"
	defaultPort      = "7777"
)

// DynamoScanner reads token tables from DynamoDB.
type DynamoScanner struct {
	client *dynamodb.Client
}

// NewDynamoScanner returns a scanner backed by a DynamoDB client built from
// the ambient AWS configuration.
func NewDynamoScanner(ctx context.Context) (*DynamoScanner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &DynamoScanner{client: dynamodb.NewFromConfig(cfg)}, nil
}

// NewDynamoScannerFromClient returns a scanner using the provided client.
func NewDynamoScannerFromClient(client *dynamodb.Client) *DynamoScanner {
	return &DynamoScanner{client: client}
}

// Scan implements Scanner. It pages through the whole table.
func (s *DynamoScanner) Scan(ctx context.Context, table string) ([]Record, error) {
	var records []Record

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table %q: %w", table, err)
		}
		for _, item := range page.Items {
			records = append(records, recordFromItem(item))
		}
	}

	return records, nil
}

func recordFromItem(item map[string]types.AttributeValue) Record {
	record := Record{
		Token:     defaultToken,
		IPAddress: defaultIPAddress,
		Port:      defaultPort,
	}
	if v, ok := item[attributeToken].(*types.AttributeValueMemberS); ok {
		record.Token = v.Value
	}
	if v, ok := item[attributeIPAddress].(*types.AttributeValueMemberS); ok {
		record.IPAddress = v.Value
	}
	if v, ok := item[attributePort].(*types.AttributeValueMemberN); ok {
		record.Port = v.Value
	}
	return record
}
