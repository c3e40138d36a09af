// Package holders 实现持有人数据的分层解析：依次尝试钱包缓存、结构化查询接口与分页扫描，
// 第一个返回非空结果的层级胜出。所有层级共用同一个 classify.Classifier，
// 因此同一地址无论来自哪一层都会得到相同的分类。
package holders
