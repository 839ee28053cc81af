package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// 文档中附带的定位字段，读出时剥离。
const (
	mongoStudentField = "_studentId"
	mongoDocField     = "_docId"
)

// MongoStore 把每个集合映射为一个 MongoDB collection，_id 为记录路径。
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoStore 建立带连接池的 MongoDB 连接并验证可用。
func NewMongoStore(ctx context.Context, uri string, log *logrus.Logger) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	dbName := mongoDBName(uri)
	if log != nil {
		log.WithField("database", dbName).Info("connected to MongoDB")
	}
	return &MongoStore{client: client, database: client.Database(dbName)}, nil
}

// mongoDBName 取 URI 路径中的库名，缺省为 grapenote。
func mongoDBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "grapenote"
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return "grapenote"
}

// Close 断开连接。
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) collection(c Collection) *mongo.Collection {
	return s.database.Collection(string(c))
}

// Get 读取记录
func (s *MongoStore) Get(ctx context.Context, key Key) (Fields, error) {
	var doc bson.M
	err := s.collection(key.Collection).FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get %s: %w", key, err)
	}
	return fromMongo(doc)
}

// Put 合并时使用 $set upsert，否则整条 ReplaceOne。
func (s *MongoStore) Put(ctx context.Context, key Key, fields Fields, merge bool) error {
	norm, err := normalize(fields)
	if err != nil {
		return err
	}
	doc := bson.M{}
	for k, v := range norm {
		doc[k] = v
	}
	doc[mongoStudentField] = key.StudentID
	doc[mongoDocField] = key.ID

	filter := bson.M{"_id": key.String()}
	coll := s.collection(key.Collection)
	if merge {
		_, err = coll.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	} else {
		_, err = coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("mongo put %s: %w", key, err)
	}
	return nil
}

// List 按条件查询，结果按 _id 排序。
func (s *MongoStore) List(ctx context.Context, q Query) ([]Document, error) {
	cursor, err := s.collection(q.Collection).Find(ctx, mongoFilter(q), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo list %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var out []Document
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo decode: %w", err)
		}
		path, _ := doc["_id"].(string)
		key, err := ParseKey(path)
		if err != nil {
			continue
		}
		f, err := fromMongo(doc)
		if err != nil {
			return nil, err
		}
		if !q.matches(key, f) {
			continue
		}
		out = append(out, Document{Key: key, Fields: f})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor: %w", err)
	}
	return out, nil
}

func mongoFilter(q Query) bson.M {
	filter := bson.M{}
	if q.StudentID != "" {
		filter[mongoStudentField] = q.StudentID
	}
	if q.IDPrefix != "" {
		filter[mongoDocField] = bson.M{"$regex": "^" + regexp.QuoteMeta(q.IDPrefix)}
	}
	for field, want := range q.Equals {
		filter[field] = want
	}
	return filter
}

// fromMongo 剥离定位字段并转换为通用表示。
func fromMongo(doc bson.M) (Fields, error) {
	f := Fields{}
	for k, v := range doc {
		if k == "_id" || k == mongoStudentField || k == mongoDocField {
			continue
		}
		f[k] = v
	}
	return normalize(f)
}
